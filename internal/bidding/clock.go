package bidding

import (
	"context"
	"fmt"
	"time"

	"gavel/internal/model"
	"gavel/internal/settings"
)

// AuctionClock decides whether an accepted bid pushes the deadline out.
type AuctionClock struct {
	settings settings.Provider
}

// NewAuctionClock creates a clock reading the global policy from provider.
func NewAuctionClock(provider settings.Provider) *AuctionClock {
	return &AuctionClock{settings: provider}
}

// Extend returns whether a bid accepted at `at` extends the auction and the
// resulting end time. The product is not modified.
func (c *AuctionClock) Extend(ctx context.Context, p *model.Product, at time.Time) (bool, time.Time, error) {
	return c.Load(ctx).Extend(p, at)
}

// Load reads the global policy. A load error is kept and only reported
// when a product without its own snapshot needs the policy.
func (c *AuctionClock) Load(ctx context.Context) Policy {
	s, err := c.settings.Current(ctx)
	if err != nil {
		return Policy{err: fmt.Errorf("load auction settings: %w", err)}
	}
	return Policy{global: s}
}

// Policy is the global auto-extend policy read before a product
// transaction opens, so deciding an extension needs no storage access.
type Policy struct {
	global model.AuctionSettings
	err    error
}

// Extend applies the policy to a bid accepted at `at`.
func (pol Policy) Extend(p *model.Product, at time.Time) (bool, time.Time, error) {
	if !p.AutoExtend {
		return false, p.EndTime, nil
	}

	s, err := pol.forProduct(p)
	if err != nil {
		return false, p.EndTime, err
	}

	extended, end := extend(p.EndTime, at, s)
	return extended, end, nil
}

// forProduct prefers the snapshot the product captured at listing time.
func (pol Policy) forProduct(p *model.Product) (model.AuctionSettings, error) {
	if p.ExtendTriggerMinutes != nil && p.ExtendDurationMinutes != nil {
		return model.AuctionSettings{
			AutoExtendTriggerMinutes:  *p.ExtendTriggerMinutes,
			AutoExtendDurationMinutes: *p.ExtendDurationMinutes,
		}, nil
	}
	if pol.err != nil {
		return model.AuctionSettings{}, pol.err
	}
	return pol.global, nil
}

// extend replaces the deadline with at+duration when fewer than trigger
// minutes remain. The deadline never moves earlier.
func extend(end, at time.Time, s model.AuctionSettings) (bool, time.Time) {
	trigger := time.Duration(s.AutoExtendTriggerMinutes) * time.Minute
	duration := time.Duration(s.AutoExtendDurationMinutes) * time.Minute

	if end.Sub(at) >= trigger {
		return false, end
	}
	next := at.Add(duration)
	if !next.After(end) {
		return false, end
	}
	return true, next
}
