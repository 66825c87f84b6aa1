package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/michelledaniels/streaming-audio/internal/audiodriver"
	"github.com/michelledaniels/streaming-audio/internal/router"
	"github.com/michelledaniels/streaming-audio/server"
	"github.com/michelledaniels/streaming-audio/stats"
)

func main() {
	c := server.NewConfig()

	var (
		logLevel       string
		monitoringPort int
		versionMajor   int
		versionMinor   int
		versionPatch   int
	)

	flag.IntVar(&c.SampleRate, "samplerate", c.SampleRate, "Audio sample rate in Hz")
	flag.IntVar(&c.BufferSize, "buffersize", c.BufferSize, "Audio block size in frames")
	flag.IntVar(&c.RTPBasePort, "rtpbaseport", c.RTPBasePort, "First port of the per-client RTP/RTCP port block")
	flag.IntVar(&c.ControlPort, "controlport", c.ControlPort, "TCP/UDP port for the control protocol")
	flag.IntVar(&c.MaxClients, "maxclients", c.MaxClients, "Maximum number of simultaneously registered clients")
	flag.IntVar(&c.MaxOutputChannels, "maxoutputchannels", c.MaxOutputChannels, "Number of physical output channels")
	flag.Float64Var(&c.InitialGlobalVolume, "globalvolume", c.InitialGlobalVolume, "Initial global volume, 0.0-1.0")
	flag.IntVar(&c.QueueDepth, "queuedepth", c.QueueDepth, "Per-client playout queue depth, in packets")
	flag.StringVar(&c.RendererHost, "rendererhost", c.RendererHost, "Renderer host to auto-bind at startup, if any")
	flag.IntVar(&c.RendererPort, "rendererport", c.RendererPort, "Renderer port to auto-bind at startup")
	flag.BoolVar(&c.VerifyPatchVersion, "verifypatch", c.VerifyPatchVersion, "Require exact patch-version match on registration")
	flag.IntVar(&monitoringPort, "monitoringport", 7780, "Port to run the stats HTTP server on")
	flag.IntVar(&versionMajor, "versionmajor", 1, "Protocol major version this server answers with")
	flag.IntVar(&versionMinor, "versionminor", 0, "Protocol minor version this server answers with")
	flag.IntVar(&versionPatch, "versionpatch", 0, "Protocol patch version this server answers with")
	flag.StringVar(&logLevel, "loglevel", "info", "Log level: debug, info, warning, error")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}

	st := stats.NewJSONStats()
	go st.Start(monitoringPort)

	drv := audiodriver.NewFake()
	rtr := router.NewFake()

	s := server.NewServer(c, drv, rtr, versionMajor, versionMinor, versionPatch)
	s.UseStats(st)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("samd run failed: %v", err)
	}
}
