package transport

import (
	"log/slog"

	"github.com/kabili207/gasmix-go/core/codec"
)

// Compile-time interface check.
var _ Link = (*Offline)(nil)

// Offline is the link used when no serial device could be opened. Sends are
// logged and discarded and no telemetry ever arrives, so the panel stays
// usable for local configuration.
type Offline struct {
	log *slog.Logger
}

// NewOffline creates an offline link. If logger is nil, slog.Default() is
// used.
func NewOffline(logger *slog.Logger) *Offline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Offline{log: logger.WithGroup("offline")}
}

func (o *Offline) Send(msg string) error {
	o.log.Debug("discarding command, no serial link", "message", msg)
	return ErrNotConnected
}

func (o *Offline) Poll() []codec.Frame { return nil }

func (o *Offline) State() State { return StateDisconnected }

func (o *Offline) Mode() string { return "offline" }

func (o *Offline) Stop() error { return nil }
