package notify

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/systemstart/backupflow/pkg/api"
)

// Notifier delivers a run summary.
type Notifier interface {
	Notify(ctx context.Context, summary RunSummary) error
}

// Dispatcher sends a summary to every enabled notification of a target.
type Dispatcher struct {
	// Email builds the notifier for an email block.
	Email func(ctx context.Context, cfg EmailConfig) (Notifier, error)
}

// NewDispatcher returns a Dispatcher sending email through SES.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Email: func(ctx context.Context, cfg EmailConfig) (Notifier, error) {
			return NewEmailNotifier(ctx, cfg)
		},
	}
}

// Send delivers summary to the enabled notifications, in type order. It
// returns the number sent; failures are logged and never stop the others.
func (d *Dispatcher) Send(ctx context.Context, notifications map[string]map[string]any, summary RunSummary) int {
	sent := 0
	for _, kind := range slices.Sorted(maps.Keys(notifications)) {
		raw := notifications[kind]
		if enabled, _ := raw["enabled"].(bool); !enabled {
			slog.Debug("notification disabled", "type", kind)
			continue
		}

		notifier, err := d.notifier(ctx, kind, raw)
		if err != nil {
			slog.Error("failed to prepare notification", "type", kind, "error", err)
			continue
		}
		if notifier == nil {
			continue
		}

		if err := notifier.Notify(ctx, summary); err != nil {
			slog.Error("failed to send notification", "type", kind, "error", err)
			continue
		}
		sent++
	}

	if sent == 0 {
		slog.Info("no notifications sent")
	}
	return sent
}

func (d *Dispatcher) notifier(ctx context.Context, kind string, raw map[string]any) (Notifier, error) {
	switch kind {
	case api.NotificationTypeEmail:
		cfg, err := DecodeEmailConfig(raw)
		if err != nil {
			return nil, err
		}
		return d.Email(ctx, cfg)
	default:
		slog.Warn("unsupported notification type", "type", kind)
		return nil, nil
	}
}
