package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gavel/internal/database"
	"gavel/internal/model"
	"gavel/internal/observability"
)

// Closer ends auctions whose deadline has passed. It takes the same gate as
// bid placement, so a product is either closed or receives a bid, never both
// at once.
type Closer struct {
	logger  *slog.Logger
	repo    database.Repository
	gate    *Gate
	emitter Emitter
	metrics *observability.Metrics
	now     func() time.Time
}

// CloseExpired runs one sweep. Failures on individual products are joined
// into the returned error and do not stop the sweep. Running it again
// closes nothing new.
func (c *Closer) CloseExpired(ctx context.Context) (*model.CloseSummary, error) {
	start := time.Now()
	defer func() { c.metrics.RecordSweep(time.Since(start).Seconds()) }()

	ids, err := c.repo.ExpiredProductIDs(ctx, c.now())
	if err != nil {
		return nil, fmt.Errorf("list expired auctions: %w", err)
	}

	summary := &model.CloseSummary{Closed: []uuid.UUID{}}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		p, at, err := c.closeOne(ctx, id)
		if err != nil {
			c.logger.Error("Closer: failed to close auction", "product", id, "error", err)
			errs = append(errs, fmt.Errorf("close auction %s: %w", id, err))
			continue
		}
		if p == nil {
			continue
		}

		summary.Closed = append(summary.Closed, id)
		c.metrics.RecordClosed(model.EndReasonExpired)
		c.logger.Info("Closer: auction ended", "product", id, "bids", p.BidCount, "price", p.CurrentPrice.String())
		if err := c.emitter.Emit(context.WithoutCancel(ctx), model.NewAuctionEnded(p, model.EndReasonExpired, at)); err != nil {
			c.logger.Error("Failed to emit event", "type", model.EventAuctionEnded, "product", id, "error", err)
		}
	}
	summary.ClosedCount = len(summary.Closed)
	return summary, errors.Join(errs...)
}

// closeOne re-checks the product under its gate and ends it. A nil product
// means nothing was changed.
func (c *Closer) closeOne(ctx context.Context, id uuid.UUID) (*model.Product, time.Time, error) {
	var (
		closed *model.Product
		at     time.Time
	)
	err := c.gate.Do(ctx, id, func(ctx context.Context) error {
		closed = nil
		return c.repo.InProductTx(ctx, id, func(tx database.ProductTx) error {
			p := tx.Product()
			at = c.now()
			if p.Status != model.StatusActive || at.Before(p.EndTime) {
				return nil
			}
			p.Status = model.StatusEnded
			p.UpdatedAt = at
			if err := tx.SaveProduct(ctx, p); err != nil {
				return fmt.Errorf("save product: %w", err)
			}
			closed = p
			return nil
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, at, nil
	}
	if err != nil {
		return nil, at, err
	}
	return closed, at, nil
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (c *Closer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := c.CloseExpired(ctx)
		if err != nil {
			c.logger.Error("Closer: sweep finished with errors", "error", err)
		}
		if summary != nil && summary.ClosedCount > 0 {
			c.logger.Info("Closer: sweep closed auctions", "count", summary.ClosedCount)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("Closer: context cancelled, shutting down")
			return
		case <-ticker.C:
		}
	}
}
