// Package settings supplies the global auto-extend policy to the bidding engine.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gavel/internal/database"
	"gavel/internal/model"
)

// Provider returns the auction settings in force.
type Provider interface {
	Current(ctx context.Context) (model.AuctionSettings, error)
}

// Static always returns the same settings.
type Static struct {
	Settings model.AuctionSettings
}

func (s Static) Current(context.Context) (model.AuctionSettings, error) {
	return s.Settings, nil
}

// Source loads the stored settings row.
type Source interface {
	LoadSettings(ctx context.Context) (model.AuctionSettings, error)
}

// Cached reads settings from a Source and keeps them for a TTL. When the
// source has no row, or fails, the fallback is served.
type Cached struct {
	logger   *slog.Logger
	source   Source
	fallback model.AuctionSettings
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    model.AuctionSettings
	fetchedAt time.Time
	valid     bool
}

// NewCached creates a Cached provider.
func NewCached(logger *slog.Logger, source Source, fallback model.AuctionSettings, ttl time.Duration) *Cached {
	return &Cached{
		logger:   logger,
		source:   source,
		fallback: fallback,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *Cached) Current(ctx context.Context) (model.AuctionSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.valid && now.Sub(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	s, err := c.source.LoadSettings(ctx)
	switch {
	case errors.Is(err, database.ErrNotFound):
		s = c.fallback
	case err != nil:
		c.logger.Error("Failed to load auction settings, using fallback", "error", err)
		return c.fallback, nil
	case !s.Valid():
		c.logger.Warn("Stored auction settings are invalid, using fallback",
			"triggerMinutes", s.AutoExtendTriggerMinutes,
			"durationMinutes", s.AutoExtendDurationMinutes,
		)
		s = c.fallback
	}

	c.cached = s
	c.fetchedAt = now
	c.valid = true
	return s, nil
}

// Invalidate drops the cached value so the next call reloads.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
