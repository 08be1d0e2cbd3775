package ledmesh

// Number of pixels carried by a single raw chunk message.
const ChunkSize = 75

// The chunk bitmask is 32 bits wide.
const MaxChunks = 32

const MaxPixelCount = MaxChunks * ChunkSize

type Color struct {
	R, G, B uint8
}

var Black = Color{}

// Scale returns the color scaled by s/256, s=255 keeping the color
// unchanged.
func (c Color) Scale(s uint8) Color {
	scale := uint16(s) + 1

	return Color{
		R: uint8((uint16(c.R) * scale) >> 8),
		G: uint8((uint16(c.G) * scale) >> 8),
		B: uint8((uint16(c.B) * scale) >> 8),
	}
}

type Frame struct {
	Pixels []Color
}

func NewFrame(nbPixels int) *Frame {
	return &Frame{
		Pixels: make([]Color, nbPixels),
	}
}

func (f *Frame) Len() int {
	return len(f.Pixels)
}

func (f *Frame) Fill(c Color) {
	for i := range f.Pixels {
		f.Pixels[i] = c
	}
}

func (f *Frame) Clear() {
	f.Fill(Black)
}

func (f *Frame) Scale(s uint8) {
	for i, c := range f.Pixels {
		f.Pixels[i] = c.Scale(s)
	}
}

func (f *Frame) CopyTo(dst *Frame) {
	copy(dst.Pixels, f.Pixels)
}

// AppendRGB appends the RGB bytes of pixels [start, start+count) to buf.
func (f *Frame) AppendRGB(buf []byte, start, count int) []byte {
	for _, c := range f.Pixels[start : start+count] {
		buf = append(buf, c.R, c.G, c.B)
	}

	return buf
}

// SetRGB copies RGB triples from data into the frame starting at pixel
// start.
func (f *Frame) SetRGB(start int, data []byte) {
	for i := 0; i+2 < len(data); i += 3 {
		f.Pixels[start+i/3] = Color{R: data[i], G: data[i+1], B: data[i+2]}
	}
}

func NbChunks(nbPixels int) int {
	return (nbPixels + ChunkSize - 1) / ChunkSize
}

// ChunkBounds returns the first pixel and the number of pixels of a chunk.
// The last chunk may be shorter than ChunkSize.
func ChunkBounds(nbPixels, idx int) (int, int) {
	start := idx * ChunkSize

	count := nbPixels - start
	if count > ChunkSize {
		count = ChunkSize
	}

	return start, count
}

func CompleteMask(nbPixels int) uint32 {
	n := NbChunks(nbPixels)
	if n >= 32 {
		return 0xffffffff
	}

	return (uint32(1) << n) - 1
}
