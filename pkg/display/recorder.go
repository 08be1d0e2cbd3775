package display

import (
	"sync"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

// Recorder is a display keeping every flushed frame in memory. It is used
// when no LED hardware is configured and in tests.
type Recorder struct {
	// Maximum number of frames kept, 0 for no limit
	Capacity int

	frames   []*ledmesh.Frame
	nbShows  int
	nbClears int
	lit      bool

	mu sync.Mutex
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{Capacity: capacity}
}

func (r *Recorder) Show(frame *ledmesh.Frame, brightness uint8) error {
	shown := ledmesh.NewFrame(frame.Len())
	frame.CopyTo(shown)
	shown.Scale(brightness)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, shown)
	if r.Capacity > 0 && len(r.frames) > r.Capacity {
		r.frames = r.frames[len(r.frames)-r.Capacity:]
	}

	r.nbShows++
	r.lit = true

	return nil
}

func (r *Recorder) Clear() error {
	r.mu.Lock()
	r.nbClears++
	r.lit = false
	r.mu.Unlock()

	return nil
}

func (r *Recorder) NbShows() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.nbShows
}

func (r *Recorder) NbClears() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.nbClears
}

// Lit returns true if a frame was shown since the last clear.
func (r *Recorder) Lit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lit
}

// Last returns the last frame shown, or nil if there is none.
func (r *Recorder) Last() *ledmesh.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return nil
	}

	return r.frames[len(r.frames)-1]
}

func (r *Recorder) Frames() []*ledmesh.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := make([]*ledmesh.Frame, len(r.frames))
	copy(frames, r.frames)

	return frames
}
