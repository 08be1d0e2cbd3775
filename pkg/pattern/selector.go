package pattern

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

// Below this music level, frames are dimmed to a fixed minimum instead of
// following the music.
const MinMusicLevel = 0.1

const idleMusicScale = 32

// Selector renders the current pattern and rotates to the next one when the
// duration of the current pattern has elapsed. It implements
// ledmesh.Renderer.
type Selector struct {
	Mode     ledmesh.Mode
	Settings *SettingsStore

	sources []Source
	rand    *rand.Rand

	current      Id
	lastRotation time.Duration

	mu sync.Mutex
}

func NewSelector(settings *SettingsStore, rnd *rand.Rand) *Selector {
	if settings == nil {
		settings = NewSettingsStore()
	}

	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	s := Selector{
		Mode:     ledmesh.ModeAuto,
		Settings: settings,

		rand: rnd,
	}

	for _, id := range Ids() {
		source, err := NewSource(id)
		if err != nil {
			panic(err)
		}

		s.sources = append(s.sources, source)
	}

	return &s
}

func (s *Selector) Current() Id {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// Select forces the current pattern and restarts its rotation timer at the
// next frame.
func (s *Selector) Select(id Id) error {
	if !id.Valid() {
		return fmt.Errorf("invalid pattern %d", id)
	}

	s.mu.Lock()
	s.current = id
	s.lastRotation = -1
	s.mu.Unlock()

	return nil
}

func (s *Selector) Render(frame *ledmesh.Frame, rctx ledmesh.RenderContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.Settings.Get(Key{Mode: s.Mode, Pattern: s.current})

	switch {
	case s.lastRotation < 0:
		s.lastRotation = rctx.Now

	case settings.Duration == 0 || rctx.Now-s.lastRotation >= settings.RotationPeriod():
		s.current = (s.current + 1) % nbIds
		s.lastRotation = rctx.Now

		settings = s.Settings.Get(Key{Mode: s.Mode, Pattern: s.current})
	}

	ctx := Context{
		RenderContext: rctx,

		Settings: settings,
		Rand:     s.rand,
	}

	s.sources[s.current].Render(frame, &ctx)

	if rctx.AudioDetected {
		frame.Scale(MusicScale(rctx.MusicLevel))
	}
}

// MusicScale returns the scale applied to frames when music is playing.
func MusicScale(level float64) uint8 {
	if level > MinMusicLevel {
		return uint8(min(level, 1.0) * 255.0)
	}

	return idleMusicScale
}
