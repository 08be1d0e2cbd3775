package display

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

const (
	SOF0 = 0xAA
	SOF1 = 0x55

	CmdShow  = 0x10
	CmdClear = 0x11
)

// EncodePacket builds the on-wire representation of a command for the LED
// controller:
//
//	[SOF0][SOF1][LEN16 LE][CMD][payload...][CKS]
//
// LEN counts the command byte and the payload. CKS is the XOR of every byte
// from LEN to the end of the payload.
func EncodePacket(buf []byte, cmd byte, payload []byte) []byte {
	length := uint16(len(payload) + 1)

	buf = append(buf, SOF0, SOF1)
	buf = binary.LittleEndian.AppendUint16(buf, length)
	buf = append(buf, cmd)
	buf = append(buf, payload...)

	cks := byte(length) ^ byte(length>>8) ^ cmd
	for _, b := range payload {
		cks ^= b
	}

	return append(buf, cks)
}

// SerialDisplay drives a LED controller through a serial link. The
// controller receives the full strip at each flush.
type SerialDisplay struct {
	w io.WriteCloser

	payload []byte
	buf     []byte

	mu sync.Mutex
}

func OpenSerialDisplay(device string, baudRate int) (*SerialDisplay, error) {
	mode := serial.Mode{BaudRate: baudRate}

	port, err := serial.Open(device, &mode)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", device, err)
	}

	return NewSerialDisplay(port), nil
}

func NewSerialDisplay(w io.WriteCloser) *SerialDisplay {
	return &SerialDisplay{w: w}
}

func (d *SerialDisplay) Show(frame *ledmesh.Frame, brightness uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.payload = d.payload[:0]
	for _, c := range frame.Pixels {
		c = c.Scale(brightness)
		d.payload = append(d.payload, c.R, c.G, c.B)
	}

	return d.send(CmdShow, d.payload)
}

func (d *SerialDisplay) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.send(CmdClear, nil)
}

func (d *SerialDisplay) send(cmd byte, payload []byte) error {
	d.buf = EncodePacket(d.buf[:0], cmd, payload)

	if _, err := d.w.Write(d.buf); err != nil {
		return fmt.Errorf("cannot write packet: %w", err)
	}

	return nil
}

func (d *SerialDisplay) Close() error {
	return d.w.Close()
}
