package main

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kabili207/gasmix-go/core/dispatch"
)

var (
	_ dispatch.StatusSink    = (*statusBoard)(nil)
	_ dispatch.TelemetrySink = (*telemetryLog)(nil)
)

// statusBoard keeps the most recent telemetry broadcast for display.
type statusBoard struct {
	mu      sync.RWMutex
	last    dispatch.Telemetry
	updated time.Time
	now     func() time.Time
}

func newStatusBoard() *statusBoard {
	return &statusBoard{now: time.Now}
}

func (b *statusBoard) UpdateStatus(t dispatch.Telemetry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = t
	b.updated = b.now()
}

// Last returns the latest broadcast and when it arrived. ok is false until
// the first broadcast.
func (b *statusBoard) Last() (t dispatch.Telemetry, at time.Time, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.updated, !b.updated.IsZero()
}

// telemetryLog records telemetry to the log when no broker is configured.
type telemetryLog struct {
	log *slog.Logger
}

func (l telemetryLog) RecordTelemetry(t dispatch.Telemetry) {
	l.log.Debug("telemetry", "fields", strings.Join(t.Fields, ";"))
}
