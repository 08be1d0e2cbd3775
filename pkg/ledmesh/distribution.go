package ledmesh

import (
	"errors"
	"fmt"
)

var (
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrChunkLength     = errors.New("invalid chunk length")
	ErrStaleChunk      = errors.New("stale chunk")
)

// FrameSender splits frames into raw chunk messages. The sequence number is
// incremented for every chunk, so all chunks of a frame share the same base
// sequence (sequence minus chunk index).
type FrameSender struct {
	Transport Transport
	Token     Token

	sequence uint32
	pixels   []byte
	buf      []byte
}

func NewFrameSender(transport Transport, token Token) *FrameSender {
	return &FrameSender{
		Transport: transport,
		Token:     token,

		pixels: make([]byte, 0, ChunkSize*3),
		buf:    make([]byte, 0, MaxRawChunkMsgSize),
	}
}

// Send broadcasts every chunk of the frame and returns the number of chunks
// which were handed to the transport. Chunks are sent independently: a
// failure for one chunk does not prevent the others from being sent.
func (s *FrameSender) Send(frame *Frame) (int, error) {
	nbPixels := frame.Len()
	nbChunks := NbChunks(nbPixels)

	var firstErr error
	nbSent := 0

	for c := 0; c < nbChunks; c++ {
		start, count := ChunkBounds(nbPixels, c)

		s.pixels = frame.AppendRGB(s.pixels[:0], start, count)

		msg := RawChunkMsg{
			Sequence:   s.sequence,
			Token:      s.Token,
			ChunkIndex: uint8(c),
			Pixels:     s.pixels,
		}

		s.sequence++

		buf, err := AppendMsg(s.buf[:0], &msg)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("cannot encode chunk %d: %w", c, err)
			}

			continue
		}

		s.buf = buf

		if err := s.Transport.Broadcast(s.buf); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("cannot send chunk %d: %w", c, err)
			}

			continue
		}

		nbSent++
	}

	return nbSent, firstErr
}

func (s *FrameSender) Sequence() uint32 {
	return s.sequence
}

// FrameAssembler rebuilds frames from raw chunks on followers. A frame is
// complete when the bit of every chunk is set in the mask.
type FrameAssembler struct {
	frame *Frame

	nbChunks     int
	completeMask uint32
	mask         uint32

	// Frame being assembled
	active bool
	sender Token
	base   uint32
}

func NewFrameAssembler(frame *Frame) *FrameAssembler {
	nbPixels := frame.Len()

	return &FrameAssembler{
		frame: frame,

		nbChunks:     NbChunks(nbPixels),
		completeMask: CompleteMask(nbPixels),
	}
}

func (a *FrameAssembler) Apply(msg *RawChunkMsg) error {
	idx := int(msg.ChunkIndex)
	if idx >= a.nbChunks {
		return fmt.Errorf("%w: %d (%d chunks)",
			ErrChunkOutOfRange, idx, a.nbChunks)
	}

	start, count := ChunkBounds(a.frame.Len(), idx)
	if len(msg.Pixels) != count*3 {
		return fmt.Errorf("%w: %d bytes for chunk %d, expected %d",
			ErrChunkLength, len(msg.Pixels), idx, count*3)
	}

	base := msg.Sequence - uint32(idx)

	switch {
	case !a.active || msg.Token != a.sender:
		a.startFrame(msg.Token, base)

	case base == a.base:

	case sequenceBefore(base, a.base):
		return fmt.Errorf("%w: frame %d, assembling %d",
			ErrStaleChunk, base, a.base)

	default:
		a.startFrame(msg.Token, base)
	}

	a.frame.SetRGB(start, msg.Pixels)
	a.mask |= 1 << idx

	return nil
}

func (a *FrameAssembler) startFrame(sender Token, base uint32) {
	a.active = true
	a.sender = sender
	a.base = base
	a.mask = 0
}

func (a *FrameAssembler) Complete() bool {
	return a.mask == a.completeMask
}

func (a *FrameAssembler) Mask() uint32 {
	return a.mask
}

func (a *FrameAssembler) NbChunks() int {
	return a.nbChunks
}

// ClearMask is called once a complete frame has been displayed.
func (a *FrameAssembler) ClearMask() {
	a.mask = 0
}

// Reset forgets the frame being assembled, for example after a leadership
// change.
func (a *FrameAssembler) Reset() {
	a.active = false
	a.sender = 0
	a.base = 0
	a.mask = 0
}
