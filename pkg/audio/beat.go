package audio

import (
	"time"
)

type BeatDetectorCfg struct {
	// Smoothing factor of the envelope followers
	Smoothing float64

	// Below this dynamic range, or above this loudness floor, the
	// environment is considered saturated.
	MinDynamicRange float64
	HighVolumeFloor float64

	Threshold           float64
	HighVolumeThreshold float64

	Window   time.Duration
	MinBeats int
	MinBPM   float64
	MaxBPM   float64

	Capacity int
}

func DefaultBeatDetectorCfg() BeatDetectorCfg {
	return BeatDetectorCfg{
		Smoothing: 0.995,

		MinDynamicRange: 0.08,
		HighVolumeFloor: 0.7,

		Threshold:           0.6,
		HighVolumeThreshold: 0.35,

		Window:   5 * time.Second,
		MinBeats: 4,
		MinBPM:   30.0,
		MaxBPM:   300.0,

		Capacity: 50,
	}
}

// BeatDetector turns microphone frames into a normalized music level and
// decides, once per window, whether music is playing.
type BeatDetector struct {
	Cfg BeatDetectorCfg

	soundMin float64
	soundMax float64

	adaptedMin float64
	adaptedMax float64
	threshold  float64
	highVolume bool

	level     float64
	prevAbove bool

	// Ring buffer of beat timestamps
	beats     []time.Duration
	beatStart int
	nbBeats   int

	windowStart   time.Duration
	bpm           float64
	audioDetected bool
}

func NewBeatDetector(cfg BeatDetectorCfg) *BeatDetector {
	defaults := DefaultBeatDetectorCfg()

	if cfg.Smoothing == 0.0 {
		cfg.Smoothing = defaults.Smoothing
	}

	if cfg.Threshold == 0.0 {
		cfg.Threshold = defaults.Threshold
	}

	if cfg.HighVolumeThreshold == 0.0 {
		cfg.HighVolumeThreshold = defaults.HighVolumeThreshold
	}

	if cfg.Window == 0 {
		cfg.Window = defaults.Window
	}

	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}

	d := BeatDetector{
		Cfg: cfg,

		threshold: cfg.Threshold,

		beats: make([]time.Duration, cfg.Capacity),
	}

	return &d
}

// Reset starts a new BPM window at now and forgets recorded beats. The
// envelope is kept.
func (d *BeatDetector) Reset(now time.Duration) {
	d.windowStart = now
	d.beatStart = 0
	d.nbBeats = 0
	d.prevAbove = false
}

// Loudness returns the mean absolute amplitude of a frame in [0, 1].
func Loudness(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}

		sum += v
	}

	return min(float64(sum)/float64(len(samples))/32767.0, 1.0)
}

func (d *BeatDetector) ProcessFrame(samples []int16, now time.Duration) {
	d.ProcessLevel(Loudness(samples), now)
}

func (d *BeatDetector) ProcessLevel(raw float64, now time.Duration) {
	k := d.Cfg.Smoothing

	d.soundMin = min(raw, k*d.soundMin+(1.0-k)*raw)
	d.soundMax = max(raw, k*d.soundMax+(1.0-k)*raw)

	dynamicRange := d.soundMax - d.soundMin

	d.adaptedMin = d.soundMin
	d.adaptedMax = d.soundMax
	d.threshold = d.Cfg.Threshold

	d.highVolume = d.soundMin > d.Cfg.HighVolumeFloor ||
		dynamicRange < d.Cfg.MinDynamicRange

	if d.highVolume {
		if dynamicRange < d.Cfg.MinDynamicRange {
			expansion := (d.Cfg.MinDynamicRange - dynamicRange) * 0.5

			d.adaptedMin = max(0.0, d.soundMin-expansion)
			d.adaptedMax = min(1.0, d.soundMax+expansion)
		}

		d.threshold = d.Cfg.HighVolumeThreshold
	}

	level := (raw - d.adaptedMin) / (d.adaptedMax - d.adaptedMin + 1e-6)
	d.level = min(max(level, 0.0), 1.0)

	above := d.level >= d.threshold
	if above && !d.prevAbove {
		d.recordBeat(now)
	}

	d.prevAbove = above
}

func (d *BeatDetector) recordBeat(t time.Duration) {
	capacity := len(d.beats)

	if d.nbBeats < capacity {
		d.beats[(d.beatStart+d.nbBeats)%capacity] = t
		d.nbBeats++
	} else {
		d.beats[d.beatStart] = t
		d.beatStart = (d.beatStart + 1) % capacity
	}
}

// UpdateBPM evaluates the current window if it has elapsed and returns
// true in that case. Between evaluations, AudioDetected keeps its value.
func (d *BeatDetector) UpdateBPM(now time.Duration) bool {
	window := d.Cfg.Window

	if now-d.windowStart < window {
		return false
	}

	cutoff := now - window

	count := 0
	for i := 0; i < d.nbBeats; i++ {
		if d.beats[(d.beatStart+i)%len(d.beats)] >= cutoff {
			count++
		}
	}

	d.bpm = float64(count) * float64(time.Minute) / float64(window)
	d.audioDetected = count >= d.Cfg.MinBeats &&
		d.bpm >= d.Cfg.MinBPM && d.bpm <= d.Cfg.MaxBPM

	d.windowStart += window
	if now-d.windowStart >= window {
		// We were not called for more than a window, do not try to catch up
		d.windowStart = now
	}

	d.beatStart = 0
	d.nbBeats = 0

	return true
}

func (d *BeatDetector) AudioDetected() bool {
	return d.audioDetected
}

func (d *BeatDetector) BPM() float64 {
	return d.bpm
}

func (d *BeatDetector) MusicLevel() float64 {
	return d.level
}

func (d *BeatDetector) Threshold() float64 {
	return d.threshold
}

func (d *BeatDetector) HighVolume() bool {
	return d.highVolume
}

// Envelope returns the smoothed loudness floor and ceiling.
func (d *BeatDetector) Envelope() (float64, float64) {
	return d.soundMin, d.soundMax
}

// AdaptedRange returns the bounds used to normalize the music level.
func (d *BeatDetector) AdaptedRange() (float64, float64) {
	return d.adaptedMin, d.adaptedMax
}

func (d *BeatDetector) NbBeats() int {
	return d.nbBeats
}
