package ledmesh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type MsgType uint8

const (
	MsgTypeRawChunk   MsgType = 0x00
	MsgTypeToken      MsgType = 0x01
	MsgTypeOTASuspend MsgType = 0x02
	MsgTypeOTAResume  MsgType = 0x03
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRawChunk:
		return "rawChunk"
	case MsgTypeToken:
		return "token"
	case MsgTypeOTASuspend:
		return "otaSuspend"
	case MsgTypeOTAResume:
		return "otaResume"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

const (
	TokenMsgSize          = 5
	RawChunkHeaderSize    = 10
	MaxRawChunkMsgSize    = RawChunkHeaderSize + ChunkSize*3
	OTAControlMsgSize     = 1
	MaxMsgSize            = MaxRawChunkMsgSize
	rawChunkSequenceOff   = 1
	rawChunkTokenOff      = 5
	rawChunkChunkIndexOff = 9
)

var (
	ErrTruncatedMsg     = errors.New("truncated message")
	ErrUnknownMsgType   = errors.New("unknown message type")
	ErrInvalidMsgLength = errors.New("invalid message length")
)

type Msg interface {
	GetType() MsgType

	fmt.Stringer
}

type TokenMsg struct {
	Token Token
}

func (msg *TokenMsg) GetType() MsgType {
	return MsgTypeToken
}

func (msg *TokenMsg) String() string {
	return fmt.Sprintf("Token{token: %v}", msg.Token)
}

// RawChunkMsg carries the RGB bytes of one chunk of a frame. When decoded,
// Pixels references the datagram buffer.
type RawChunkMsg struct {
	Sequence   uint32
	Token      Token
	ChunkIndex uint8
	Pixels     []byte
}

func (msg *RawChunkMsg) GetType() MsgType {
	return MsgTypeRawChunk
}

func (msg *RawChunkMsg) String() string {
	return fmt.Sprintf("RawChunk{sequence: %d, token: %v, chunk: %d, "+
		"%d pixels}", msg.Sequence, msg.Token, msg.ChunkIndex,
		len(msg.Pixels)/3)
}

type OTASuspendMsg struct{}

func (msg *OTASuspendMsg) GetType() MsgType {
	return MsgTypeOTASuspend
}

func (msg *OTASuspendMsg) String() string {
	return "OTASuspend{}"
}

type OTAResumeMsg struct{}

func (msg *OTAResumeMsg) GetType() MsgType {
	return MsgTypeOTAResume
}

func (msg *OTAResumeMsg) String() string {
	return "OTAResume{}"
}

func EncodeMsg(msg Msg) ([]byte, error) {
	return AppendMsg(make([]byte, 0, MaxMsgSize), msg)
}

// AppendMsg encodes msg at the end of buf. Integers are little endian.
func AppendMsg(buf []byte, msg Msg) ([]byte, error) {
	buf = append(buf, byte(msg.GetType()))

	switch msgv := msg.(type) {
	case *TokenMsg:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(msgv.Token))

	case *RawChunkMsg:
		if len(msgv.Pixels)%3 != 0 || len(msgv.Pixels) > ChunkSize*3 {
			return nil, fmt.Errorf("%w: %d pixel bytes",
				ErrInvalidMsgLength, len(msgv.Pixels))
		}

		buf = binary.LittleEndian.AppendUint32(buf, msgv.Sequence)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(msgv.Token))
		buf = append(buf, msgv.ChunkIndex)
		buf = append(buf, msgv.Pixels...)

	case *OTASuspendMsg, *OTAResumeMsg:

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMsgType, msg)
	}

	return buf, nil
}

func DecodeMsg(data []byte) (Msg, error) {
	if len(data) == 0 {
		return nil, ErrTruncatedMsg
	}

	msgType := MsgType(data[0])

	switch msgType {
	case MsgTypeToken:
		if len(data) < TokenMsgSize {
			return nil, ErrTruncatedMsg
		} else if len(data) > TokenMsgSize {
			return nil, fmt.Errorf("%w: %d bytes for %v",
				ErrInvalidMsgLength, len(data), msgType)
		}

		token := binary.LittleEndian.Uint32(data[1:])

		return &TokenMsg{Token: Token(token) & MaxToken}, nil

	case MsgTypeRawChunk:
		if len(data) < RawChunkHeaderSize {
			return nil, ErrTruncatedMsg
		}

		payload := data[RawChunkHeaderSize:]
		if len(payload) > ChunkSize*3 || len(payload)%3 != 0 {
			return nil, fmt.Errorf("%w: %d bytes for %v",
				ErrInvalidMsgLength, len(data), msgType)
		}

		token := binary.LittleEndian.Uint32(data[rawChunkTokenOff:])

		msg := RawChunkMsg{
			Sequence:   binary.LittleEndian.Uint32(data[rawChunkSequenceOff:]),
			Token:      Token(token) & MaxToken,
			ChunkIndex: data[rawChunkChunkIndexOff],
			Pixels:     payload,
		}

		return &msg, nil

	case MsgTypeOTASuspend, MsgTypeOTAResume:
		if len(data) != OTAControlMsgSize {
			return nil, fmt.Errorf("%w: %d bytes for %v",
				ErrInvalidMsgLength, len(data), msgType)
		}

		if msgType == MsgTypeOTASuspend {
			return &OTASuspendMsg{}, nil
		}

		return &OTAResumeMsg{}, nil

	default:
		return nil, fmt.Errorf("%w %v", ErrUnknownMsgType, msgType)
	}
}
