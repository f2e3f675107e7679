package bidding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gavel/internal/database"
	"gavel/internal/observability"
)

// GateConfig bounds the retry loop of a Gate.
type GateConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultGateConfig is used when no configuration is supplied.
var DefaultGateConfig = GateConfig{
	MaxAttempts: 5,
	BaseBackoff: 10 * time.Millisecond,
	MaxBackoff:  500 * time.Millisecond,
}

// Gate serialises mutating work per product inside one process and retries
// the work when the store reports a conflicting writer from elsewhere.
type Gate struct {
	logger  *slog.Logger
	cfg     GateConfig
	metrics *observability.Metrics

	mu    sync.Mutex
	locks map[uuid.UUID]*productLock
}

// productLock is a one-slot channel so waiting on it can be abandoned
// when the context ends.
type productLock struct {
	slot chan struct{}
	refs int
}

// NewGate creates a Gate. Zero fields in cfg fall back to DefaultGateConfig.
func NewGate(logger *slog.Logger, cfg GateConfig, metrics *observability.Metrics) *Gate {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultGateConfig.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultGateConfig.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Gate{
		logger:  logger,
		cfg:     cfg,
		metrics: metrics,
		locks:   make(map[uuid.UUID]*productLock),
	}
}

// Do runs fn while holding the product's gate. When fn fails with
// database.ErrConflict the gate is released, the caller backs off and fn
// runs again from scratch. After MaxAttempts conflicts Do returns
// ErrConcurrencyConflict.
func (g *Gate) Do(ctx context.Context, productID uuid.UUID, fn func(ctx context.Context) error) error {
	backoff := g.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := g.once(ctx, productID, fn)
		if !errors.Is(err, database.ErrConflict) {
			return err
		}

		g.metrics.RecordConflict()
		if attempt >= g.cfg.MaxAttempts {
			g.metrics.RecordExhausted()
			g.logger.Warn("Gate: retries exhausted", "product", productID, "attempts", attempt)
			return ErrConcurrencyConflict
		}

		g.logger.Debug("Gate: conflict, retrying", "product", productID, "attempt", attempt, "backoff", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > g.cfg.MaxBackoff {
			backoff = g.cfg.MaxBackoff
		}
	}
}

func (g *Gate) once(ctx context.Context, productID uuid.UUID, fn func(ctx context.Context) error) error {
	release, err := g.acquire(ctx, productID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (g *Gate) acquire(ctx context.Context, productID uuid.UUID) (func(), error) {
	g.mu.Lock()
	l, ok := g.locks[productID]
	if !ok {
		l = &productLock{slot: make(chan struct{}, 1)}
		g.locks[productID] = l
	}
	l.refs++
	g.mu.Unlock()

	start := time.Now()
	select {
	case l.slot <- struct{}{}:
		g.metrics.RecordGateWait(time.Since(start).Seconds())
		return func() {
			<-l.slot
			g.unref(productID, l)
		}, nil
	case <-ctx.Done():
		g.unref(productID, l)
		return nil, ctx.Err()
	}
}

func (g *Gate) unref(productID uuid.UUID, l *productLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, productID)
	}
}

// held reports how many products currently have a live lock entry.
func (g *Gate) held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
