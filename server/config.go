// Package server implements the client session registry, output
// allocation, renderer binding and control protocol dispatcher.
package server

import (
	"time"

	"github.com/michelledaniels/streaming-audio/wire"
)

// Config holds the static options recognized at startup, per spec.md
// §6's "Configuration (recognized options)" list. NewConfig supplies the
// defaults and no validation is done; cmd/samd wires these from flag.
type Config struct {
	SampleRate int
	BufferSize int // frames

	RTPBasePort int
	ControlPort int

	MaxClients       int
	MaxOutputChannels int
	BasicChannels    []int
	DiscreteChannels []int

	InitialGlobalVolume float64
	InitialGlobalDelayMS int
	MaxGlobalDelayMS     int
	MaxClientDelayMS     int

	MeterPublishInterval time.Duration
	QueueDepth           int // packets
	SkewThresholdSamples int

	RendererHost string
	RendererPort int

	VerifyPatchVersion bool

	// PayloadWidth is the PCM sample encoding used on the RTP audio path.
	// The control protocol negotiates channel count and samples-per-packet
	// per session but not sample width, so this is a process-wide setting.
	PayloadWidth wire.PayloadWidth
}

// NewConfig returns a Config populated with the defaults spec.md implies
// are reasonable for a standalone samd process: 48 kHz audio, a
// modest client cap, and conservative delay/jitter bounds.
func NewConfig() *Config {
	return &Config{
		SampleRate:            48000,
		BufferSize:            256,
		RTPBasePort:           50000,
		ControlPort:           7770,
		MaxClients:            32,
		MaxOutputChannels:     16,
		BasicChannels:         []int{1, 2},
		DiscreteChannels:      []int{3, 4, 5, 6, 7, 8},
		InitialGlobalVolume:   1.0,
		InitialGlobalDelayMS:  0,
		MaxGlobalDelayMS:      1000,
		MaxClientDelayMS:      1000,
		MeterPublishInterval:  100 * time.Millisecond,
		QueueDepth:            8,
		SkewThresholdSamples:  256,
		VerifyPatchVersion:    false,
		PayloadWidth:          wire.PayloadPCM16,
	}
}

// DynamicConfig holds the subset of global mix state that changes at
// runtime through the control protocol rather than at startup — the
// hot-reloadable counterpart to Config, mirroring how the teacher splits
// static server.Config from values mutated over a live connection.
type DynamicConfig struct {
	GlobalVolume float64
	GlobalMute   bool
	GlobalDelay  int // samples
}

// NewDynamicConfig seeds runtime state from the static config's initial
// values.
func NewDynamicConfig(c *Config) *DynamicConfig {
	return &DynamicConfig{
		GlobalVolume: c.InitialGlobalVolume,
		GlobalDelay:  msToSamples(c.InitialGlobalDelayMS, c.SampleRate),
	}
}

func msToSamples(ms, sampleRate int) int {
	return ms * sampleRate / 1000
}
