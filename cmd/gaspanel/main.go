// Command gaspanel drives the gas-mixing and temperature-control panel over
// its serial link. Operator commands are read from stdin when the console is
// enabled; telemetry is logged or published to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/gasmix-go/config"
	"github.com/kabili207/gasmix-go/core/dispatch"
	"github.com/kabili207/gasmix-go/device/panel"
	"github.com/kabili207/gasmix-go/metrics"
	"github.com/kabili207/gasmix-go/transport/mqtt"
)

const appName = "gaspanel"

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("gaspanel failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logFile := setupLogger(cfg.Logging)
	defer logFile.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	link := panel.OpenLink(ctx, panel.LinkConfig{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
		Fallback:    cfg.Serial.Fallback,
		Logger:      logger,
		Metrics:     m,
	})

	p, err := panel.New(panel.Config{
		Link:       link,
		PollPeriod: cfg.Panel.PollPeriod,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		link.Stop()
		return fmt.Errorf("creating panel: %w", err)
	}
	defer p.Stop()

	board := newStatusBoard()
	p.SetStatusSink(board)
	p.SetTelemetrySink(telemetryLog{log: logger.WithGroup("telemetry")})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })

	if cfg.MQTT.Broker != "" {
		g.Go(func() error {
			publishTelemetry(gctx, cfg.MQTT, p, logger)
			return nil
		})
	}

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, reg, logger) })
	}

	if cfg.Panel.Console {
		// The console blocks on stdin, so it is not part of the group; the
		// process exits without waiting for it.
		go func() {
			if err := p.RunConsole(gctx, os.Stdin, os.Stdout); err != nil {
				logger.Warn("console stopped", "error", err)
			}
		}()
	}

	logger.Info("panel running", "link", link.Mode(), "state", link.State())
	err = g.Wait()
	if t, at, ok := board.Last(); ok {
		logger.Info("shutting down", "last_telemetry", t.Fields.String(), "at", at)
	} else {
		logger.Info("shutting down")
	}
	return err
}

// telemetryTarget receives the publisher once it is connected.
type telemetryTarget interface {
	SetTelemetrySink(s dispatch.TelemetrySink)
}

// publishTelemetry connects to the broker and, once connected, replaces the
// log sink with the MQTT publisher until ctx is done. Polling runs
// throughout; an unreachable broker leaves telemetry on the log sink.
func publishTelemetry(ctx context.Context, cfg config.MQTTConfig, target telemetryTarget, logger *slog.Logger) {
	pub := newPublisher(cfg, logger)
	if err := pub.Start(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Warn("mqtt publisher unavailable, logging telemetry instead", "broker", cfg.Broker, "error", err)
		}
		return
	}

	target.SetTelemetrySink(pub)
	<-ctx.Done()
	target.SetTelemetrySink(nil)
	pub.Stop()
}

var newPublisher = func(cfg config.MQTTConfig, logger *slog.Logger) telemetryPublisher {
	return mqtt.New(mqtt.Config{
		Broker:      cfg.Broker,
		Username:    cfg.Username,
		Password:    cfg.Password,
		UseTLS:      cfg.UseTLS,
		ClientID:    cfg.ClientID,
		TopicPrefix: cfg.TopicPrefix,
		Logger:      logger,
	})
}

type telemetryPublisher interface {
	dispatch.TelemetrySink
	Start(ctx context.Context) error
	Stop() error
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(reg))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", cfg.Addr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
