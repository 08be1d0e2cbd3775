package main

import (
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-ledmesh/pkg/audio"
	"github.com/galdor/go-ledmesh/pkg/ledmesh"
	"github.com/galdor/go-service/pkg/service"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Node    NodeCfg            `json:"node"`
	Audio   AudioCfg           `json:"audio"`
	Display DisplayCfg         `json:"display"`
}

// Durations are expressed in milliseconds, except for the OTA suspension
// duration which is expressed in seconds.
type NodeCfg struct {
	Interface        string       `json:"interface,omitempty"`
	MulticastAddress string       `json:"multicastAddress,omitempty"`
	MulticastTTL     int          `json:"multicastTTL,omitempty"`
	PixelCount       int          `json:"pixelCount,omitempty"`
	Mode             ledmesh.Mode `json:"mode,omitempty"`
	Brightness       *int         `json:"brightness,omitempty"`

	FrameInterval      int `json:"frameInterval,omitempty"`
	LeaderTimeout      int `json:"leaderTimeout,omitempty"`
	ElectionBaseDelay  int `json:"electionBaseDelay,omitempty"`
	ElectionJitter     int `json:"electionJitter,omitempty"`
	ElectionTimeout    int `json:"electionTimeout,omitempty"`
	HeartbeatInterval  int `json:"heartbeatInterval,omitempty"`
	OTASuspendDuration int `json:"otaSuspendDuration,omitempty"`
}

type AudioCfg struct {
	Device       string `json:"device,omitempty"`
	SampleRate   int    `json:"sampleRate,omitempty"`
	BufferLength int    `json:"bufferLength,omitempty"`
}

type DisplayCfg struct {
	SerialDevice string `json:"serialDevice,omitempty"`
	BaudRate     int    `json:"baudRate,omitempty"`
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)

	v.CheckObject("node", &cfg.Node)
	v.CheckObject("audio", &cfg.Audio)
	v.CheckObject("display", &cfg.Display)
}

func (cfg *NodeCfg) ValidateJSON(v *jsonvalidator.Validator) {
	if cfg.MulticastTTL != 0 {
		v.CheckIntMinMax("multicastTTL", cfg.MulticastTTL, 1, 255)
	}

	if cfg.PixelCount != 0 {
		v.CheckIntMinMax("pixelCount", cfg.PixelCount, 1,
			ledmesh.MaxPixelCount)
	}

	if cfg.Mode != "" {
		v.Check("mode", cfg.Mode.Valid(), "invalid_mode",
			"mode must be either %q or %q", ledmesh.ModeAuto, ledmesh.ModeOff)
	}

	if cfg.Brightness != nil {
		v.CheckIntMinMax("brightness", *cfg.Brightness, 0, 255)
	}

	v.CheckIntMin("frameInterval", cfg.FrameInterval, 0)
	v.CheckIntMin("leaderTimeout", cfg.LeaderTimeout, 0)
	v.CheckIntMin("electionBaseDelay", cfg.ElectionBaseDelay, 0)
	v.CheckIntMin("electionJitter", cfg.ElectionJitter, 0)
	v.CheckIntMin("electionTimeout", cfg.ElectionTimeout, 0)
	v.CheckIntMin("heartbeatInterval", cfg.HeartbeatInterval, 0)
	v.CheckIntMin("otaSuspendDuration", cfg.OTASuspendDuration, 0)
}

func (cfg *AudioCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckIntMin("sampleRate", cfg.SampleRate, 0)
	v.CheckIntMin("bufferLength", cfg.BufferLength, 0)
}

func (cfg *DisplayCfg) ValidateJSON(v *jsonvalidator.Validator) {
	if cfg.SerialDevice != "" {
		v.CheckIntMin("baudRate", cfg.BaudRate, 1)
	}
}

func (cfg *NodeCfg) brightness() uint8 {
	if cfg.Brightness == nil {
		return 255
	}

	return uint8(*cfg.Brightness)
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// nodeCfg returns the configuration of the core node. Zero values are
// replaced by defaults in ledmesh.NewNode.
func (cfg *ServiceCfg) nodeCfg() ledmesh.NodeCfg {
	ncfg := &cfg.Node

	return ledmesh.NodeCfg{
		NbPixels: ncfg.PixelCount,

		Mode:       ncfg.Mode,
		Brightness: ncfg.brightness(),

		FrameInterval:      msDuration(ncfg.FrameInterval),
		LeaderTimeout:      msDuration(ncfg.LeaderTimeout),
		ElectionBaseDelay:  msDuration(ncfg.ElectionBaseDelay),
		ElectionJitter:     msDuration(ncfg.ElectionJitter),
		ElectionTimeout:    msDuration(ncfg.ElectionTimeout),
		HeartbeatInterval:  msDuration(ncfg.HeartbeatInterval),
		OTASuspendDuration: time.Duration(ncfg.OTASuspendDuration) * time.Second,

		MicBufferLength: cfg.Audio.BufferLength,

		BeatDetector: audio.DefaultBeatDetectorCfg(),
	}
}
