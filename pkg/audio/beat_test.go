package audio

import (
	"math"
	"testing"
	"time"
)

const testFrameInterval = 20 * time.Millisecond

func loudFrame(n int, amplitude int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}

	return samples
}

func TestLoudness(t *testing.T) {
	tests := []struct {
		samples []int16
		level   float64
	}{
		{nil, 0.0},
		{[]int16{0, 0, 0}, 0.0},
		{[]int16{32767, -32767}, 1.0},
		{[]int16{-32768}, 1.0},
		{[]int16{16384, 0}, 0.25},
	}

	for _, test := range tests {
		level := Loudness(test.samples)
		if math.Abs(level-test.level) > 1e-3 {
			t.Errorf("Loudness(%v) = %v, want %v",
				test.samples, level, test.level)
		}
	}
}

func TestBeatDetectorPeriodicSignal(t *testing.T) {
	d := NewBeatDetector(DefaultBeatDetectorCfg())

	loud := loudFrame(240, 32767)
	quiet := make([]int16, 240)

	// One loud pulse every 500ms: 120 beats per minute
	period := 500 * time.Millisecond

	evaluated := false

	for now := testFrameInterval; now <= 5*time.Second; now += testFrameInterval {
		if now%period >= period/2 {
			d.ProcessFrame(loud, now)
		} else {
			d.ProcessFrame(quiet, now)
		}

		if d.UpdateBPM(now) {
			evaluated = true
		}
	}

	if !evaluated {
		t.Fatalf("BPM window was never evaluated")
	}

	if !d.AudioDetected() {
		t.Errorf("AudioDetected() = false, want true (bpm %v)", d.BPM())
	}

	if bpm := d.BPM(); math.Abs(bpm-120.0) > 5.0 {
		t.Errorf("BPM() = %v, want 120 +/- 5", bpm)
	}

	// The decision holds until the next window
	d.ProcessFrame(quiet, 5*time.Second+testFrameInterval)
	if d.UpdateBPM(5*time.Second + testFrameInterval) {
		t.Errorf("BPM window evaluated again before its end")
	}

	if !d.AudioDetected() {
		t.Errorf("AudioDetected() changed between two windows")
	}
}

func TestBeatDetectorConstantSignal(t *testing.T) {
	d := NewBeatDetector(DefaultBeatDetectorCfg())

	for now := testFrameInterval; now <= 5*time.Second; now += testFrameInterval {
		d.ProcessLevel(0.5, now)
		d.UpdateBPM(now)
	}

	if d.AudioDetected() {
		t.Errorf("AudioDetected() = true, want false (bpm %v)", d.BPM())
	}
}

func TestBeatDetectorSilence(t *testing.T) {
	d := NewBeatDetector(DefaultBeatDetectorCfg())

	for now := testFrameInterval; now <= 5*time.Second; now += testFrameInterval {
		d.ProcessLevel(0.0, now)
		d.UpdateBPM(now)
	}

	if d.AudioDetected() {
		t.Errorf("AudioDetected() = true, want false")
	}

	if bpm := d.BPM(); bpm != 0.0 {
		t.Errorf("BPM() = %v, want 0", bpm)
	}
}

func TestBeatDetectorHighVolumeAdaptation(t *testing.T) {
	cfg := DefaultBeatDetectorCfg()
	d := NewBeatDetector(cfg)

	var now time.Duration
	for i := 0; i < 3000; i++ {
		now += testFrameInterval
		d.ProcessLevel(0.5, now)
	}

	soundMin, soundMax := d.Envelope()

	dynamicRange := soundMax - soundMin
	if dynamicRange >= cfg.MinDynamicRange {
		t.Fatalf("dynamic range = %v, want less than %v",
			dynamicRange, cfg.MinDynamicRange)
	}

	if !d.HighVolume() {
		t.Errorf("HighVolume() = false, want true")
	}

	if threshold := d.Threshold(); threshold != cfg.HighVolumeThreshold {
		t.Errorf("Threshold() = %v, want %v",
			threshold, cfg.HighVolumeThreshold)
	}

	expansion := (cfg.MinDynamicRange - dynamicRange) * 0.5

	adaptedMin, adaptedMax := d.AdaptedRange()

	if math.Abs(adaptedMin-(soundMin-expansion)) > 1e-9 {
		t.Errorf("adapted minimum = %v, want %v",
			adaptedMin, soundMin-expansion)
	}

	if math.Abs(adaptedMax-(soundMax+expansion)) > 1e-9 {
		t.Errorf("adapted maximum = %v, want %v",
			adaptedMax, soundMax+expansion)
	}
}

func TestBeatDetectorNormalThreshold(t *testing.T) {
	cfg := DefaultBeatDetectorCfg()
	d := NewBeatDetector(cfg)

	d.ProcessLevel(0.0, testFrameInterval)
	d.ProcessLevel(1.0, 2*testFrameInterval)

	if d.HighVolume() {
		t.Errorf("HighVolume() = true, want false")
	}

	if threshold := d.Threshold(); threshold != cfg.Threshold {
		t.Errorf("Threshold() = %v, want %v", threshold, cfg.Threshold)
	}

	if level := d.MusicLevel(); level < 0.99 || level > 1.0 {
		t.Errorf("MusicLevel() = %v, want 1", level)
	}
}

func TestBeatDetectorRingBuffer(t *testing.T) {
	cfg := DefaultBeatDetectorCfg()
	d := NewBeatDetector(cfg)

	var now time.Duration
	for i := 0; i < 2*cfg.Capacity; i++ {
		now += testFrameInterval
		d.ProcessLevel(0.0, now)

		now += testFrameInterval
		d.ProcessLevel(1.0, now)
	}

	if n := d.NbBeats(); n != cfg.Capacity {
		t.Errorf("NbBeats() = %d, want %d", n, cfg.Capacity)
	}

	d.Reset(now)

	if n := d.NbBeats(); n != 0 {
		t.Errorf("NbBeats() = %d after reset, want 0", n)
	}
}
