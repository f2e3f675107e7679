// Package notify delivers committed auction events to interested parties.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gavel/internal/model"
	"gavel/internal/observability"
)

// Emitter publishes one event. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event) error
}

// Sink is an Emitter with a name used in logs and metrics.
type Sink struct {
	Name string
	Emitter
}

// Multi fans every event out to all sinks. A failing sink does not stop
// delivery to the others.
type Multi struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	sinks   []Sink
}

// NewMulti creates a fan-out emitter.
func NewMulti(logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Multi {
	return &Multi{logger: logger, metrics: metrics, sinks: sinks}
}

func (m *Multi) Emit(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			m.metrics.RecordNotifyError(s.Name)
			m.logger.Warn("Notify: sink failed", "sink", s.Name, "type", ev.Type, "product", ev.ProductID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the configured sink names in delivery order.
func (m *Multi) Sinks() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}

// LogEmitter writes every event to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, ev model.Event) error {
	attrs := []any{
		"type", ev.Type,
		"product", ev.ProductID,
		"price", ev.Price.String(),
		"bidCount", ev.BidCount,
		"endTime", ev.EndTime,
	}
	if ev.WinnerID != nil {
		attrs = append(attrs, "winner", *ev.WinnerID)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Extended {
		attrs = append(attrs, "extended", true)
	}
	l.logger.InfoContext(ctx, "Auction event", attrs...)
	return nil
}
