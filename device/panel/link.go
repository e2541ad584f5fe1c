package panel

import (
	"context"
	"log/slog"
	"time"

	"github.com/kabili207/gasmix-go/metrics"
	"github.com/kabili207/gasmix-go/transport"
	"github.com/kabili207/gasmix-go/transport/direct"
	"github.com/kabili207/gasmix-go/transport/serial"
)

// LinkConfig selects the serial device and how far to degrade when it
// cannot be opened.
type LinkConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	// Fallback allows the direct link when the buffered transport fails.
	Fallback bool

	// Serial and Direct override the device openers.
	Serial serial.Opener
	Direct direct.Opener

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// OpenLink returns the best link available: the buffered transport, then
// the direct link if allowed, then an offline link. It never fails; a
// degraded result is logged.
func OpenLink(ctx context.Context, cfg LinkConfig) transport.Link {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.WithGroup("panel")

	t := serial.New(serial.Config{
		Port:        cfg.Port,
		BaudRate:    cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Opener:      cfg.Serial,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})
	err := t.Start(ctx)
	if err == nil {
		return t
	}
	log.Warn("buffered serial transport unavailable", "error", err)

	if cfg.Fallback {
		port := cfg.Port
		if port == "" {
			port = serial.DefaultPort
		}
		l, err := direct.Open(direct.Config{
			Port:     port,
			BaudRate: cfg.BaudRate,
			Opener:   cfg.Direct,
			Logger:   cfg.Logger,
			Metrics:  cfg.Metrics,
		})
		if err == nil {
			return l
		}
		log.Warn("direct serial link unavailable", "error", err)
	}

	log.Warn("running without a serial link, commands are discarded")
	return transport.NewOffline(cfg.Logger)
}
