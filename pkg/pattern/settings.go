package pattern

import (
	"fmt"
	"sync"
	"time"

	"github.com/galdor/go-ejson"
	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

const MaxLevel = 9

type Key struct {
	Mode    ledmesh.Mode
	Pattern Id
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Mode, k.Pattern)
}

// Settings control a pattern. Levels go from 0 to MaxLevel. The duration is
// expressed in milliseconds; zero rotates to the next pattern on every frame.
type Settings struct {
	Speed    uint8 `json:"speed"`
	Decay    uint8 `json:"decay"`
	Sparkle  uint8 `json:"sparkle"`
	Duration int   `json:"duration"`
}

func DefaultSettings() Settings {
	return Settings{
		Speed:    5,
		Decay:    5,
		Sparkle:  3,
		Duration: 15_000,
	}
}

func (s *Settings) ValidateJSON(v *ejson.Validator) {
	v.CheckIntMinMax("speed", int(s.Speed), 0, MaxLevel)
	v.CheckIntMinMax("decay", int(s.Decay), 0, MaxLevel)
	v.CheckIntMinMax("sparkle", int(s.Sparkle), 0, MaxLevel)
	v.CheckIntMin("duration", s.Duration, 0)
}

func (s Settings) Validate() error {
	return ejson.Validate(&s)
}

func (s Settings) RotationPeriod() time.Duration {
	return time.Duration(s.Duration) * time.Millisecond
}

type SettingsStore struct {
	Default  Settings
	Settings map[Key]Settings

	mu sync.RWMutex
}

func NewSettingsStore() *SettingsStore {
	s := SettingsStore{
		Default:  DefaultSettings(),
		Settings: make(map[Key]Settings),
	}

	return &s
}

func (s *SettingsStore) Get(key Key) Settings {
	s.mu.RLock()
	settings, found := s.Settings[key]
	if !found {
		settings = s.Default
	}
	s.mu.RUnlock()

	return settings
}

func (s *SettingsStore) Put(key Key, settings Settings) error {
	if !key.Pattern.Valid() {
		return fmt.Errorf("invalid pattern %d", key.Pattern)
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.Settings[key] = settings
	s.mu.Unlock()

	return nil
}

func (s *SettingsStore) Delete(key Key) {
	s.mu.Lock()
	delete(s.Settings, key)
	s.mu.Unlock()
}
