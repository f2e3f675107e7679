// Package bidding implements proxy bidding, deadline extension and the
// auction lifecycle on top of a database.Repository.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gavel/internal/database"
	"gavel/internal/model"
	"gavel/internal/observability"
	"gavel/internal/settings"
)

// Pagination limits for BidHistory.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// DefaultMinRatingPercent is the lowest positive rating share a rated
// bidder needs.
const DefaultMinRatingPercent = 80.0

// Emitter publishes committed state changes.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event) error
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, model.Event) error { return nil }

// Engine is the entry point for every bidding operation.
type Engine struct {
	logger    *slog.Logger
	repo      database.Repository
	gate      *Gate
	clock     *AuctionClock
	closer    *Closer
	emitter   Emitter
	metrics   *observability.Metrics
	minRating float64
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMinRatingPercent sets the rating threshold. Zero disables the check.
func WithMinRatingPercent(percent float64) Option {
	return func(e *Engine) { e.minRating = percent }
}

// WithGate replaces the default per-product gate.
func WithGate(g *Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// NewEngine creates an Engine. A nil emitter drops events.
func NewEngine(logger *slog.Logger, repo database.Repository, provider settings.Provider, emitter Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	e := &Engine{
		logger:    logger,
		repo:      repo,
		clock:     NewAuctionClock(provider),
		emitter:   emitter,
		minRating: DefaultMinRatingPercent,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = NewGate(logger, DefaultGateConfig, e.metrics)
	}
	e.closer = &Closer{
		logger:  logger,
		repo:    repo,
		gate:    e.gate,
		emitter: emitter,
		metrics: e.metrics,
		now:     e.now,
	}
	return e
}

// Closer returns the expiry sweeper sharing this engine's gate.
func (e *Engine) Closer() *Closer {
	return e.closer
}

// PlaceBid submits a proxy bid of maxAmount for bidderID.
func (e *Engine) PlaceBid(ctx context.Context, productID, bidderID uuid.UUID, maxAmount decimal.Decimal) (*model.BidResult, error) {
	start := time.Now()

	// Reads on the shared pool happen before the product transaction holds
	// a connection and the row lock.
	rating := e.lookupRating(ctx, bidderID)
	policy := e.clock.Load(ctx)

	var (
		result    *model.BidResult
		committed *model.Product
		at        time.Time
	)
	err := e.gate.Do(ctx, productID, func(ctx context.Context) error {
		return e.repo.InProductTx(ctx, productID, func(tx database.ProductTx) error {
			p := tx.Product()
			at = e.now()

			if err := checkSeller(p, bidderID); err != nil {
				return err
			}
			if !maxAmount.IsPositive() {
				return ErrInvalidAmount
			}
			if err := e.checkOpen(p, bidderID, at, rating); err != nil {
				return err
			}

			ledger, err := tx.Bids(ctx)
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			out, err := Resolve(p, ledger, bidderID, maxAmount)
			if err != nil {
				return err
			}

			extended, endTime := false, p.EndTime
			if !out.BuyNow {
				if extended, endTime, err = policy.Extend(p, at); err != nil {
					return err
				}
			}

			bid := &model.Bid{
				ID:            uuid.New(),
				ProductID:     p.ID,
				BidderID:      bidderID,
				MaxAmount:     maxAmount,
				VisibleAmount: out.Price,
				IsAutoBid:     out.IsAutoBid,
				CreatedAt:     at,
			}
			if err := tx.AppendBid(ctx, bid); err != nil {
				return fmt.Errorf("append bid: %w", err)
			}

			winner := out.WinnerID
			p.CurrentPrice = out.Price
			p.CurrentWinnerID = &winner
			p.BidCount++
			p.EndTime = endTime
			p.UpdatedAt = at
			if out.BuyNow {
				p.Status = model.StatusEnded
			}
			if err := tx.SaveProduct(ctx, p); err != nil {
				return fmt.Errorf("save product: %w", err)
			}

			committed = p
			result = &model.BidResult{
				BidID:           bid.ID,
				ProductID:       p.ID,
				CurrentPrice:    p.CurrentPrice,
				WinnerID:        winner,
				BidCount:        p.BidCount,
				Status:          p.Status,
				IsAutoBid:       out.IsAutoBid,
				BuyNowTriggered: out.BuyNow,
				Extended:        extended,
				NewEndTime:      p.EndTime,
			}
			return nil
		})
	})
	if err != nil {
		err = normalize(err)
		e.recordRejection(err)
		return nil, err
	}

	e.metrics.RecordBidAccepted(time.Since(start).Seconds(), result.IsAutoBid, result.BuyNowTriggered, result.Extended)
	e.logger.Info("Bid accepted",
		"product", productID,
		"bidder", bidderID,
		"price", result.CurrentPrice.String(),
		"winner", result.WinnerID,
		"autoBid", result.IsAutoBid,
		"buyNow", result.BuyNowTriggered,
		"extended", result.Extended,
	)

	e.emit(ctx, model.NewBidPlaced(committed, result, at))
	if result.BuyNowTriggered {
		e.emit(ctx, model.NewAuctionEnded(committed, model.EndReasonBuyNow, at))
	}
	return result, nil
}

// CurrentWinner returns the public standing of an auction.
func (e *Engine) CurrentWinner(ctx context.Context, productID uuid.UUID) (*model.WinnerView, error) {
	p, err := e.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, normalize(err)
	}

	view := &model.WinnerView{
		ProductID:     p.ID,
		CurrentPrice:  p.CurrentPrice,
		CurrentWinner: p.CurrentWinnerID,
		BidCount:      p.BidCount,
		Status:        p.Status,
		EndTime:       p.EndTime,
	}
	last, err := e.repo.LastBid(ctx, productID)
	switch {
	case err == nil:
		view.LastBid = last
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("get last bid: %w", err)
	}
	return view, nil
}

// BidHistory returns one page of the ledger, highest visible amount first.
// page starts at 1; limit is clamped to [1, MaxPageLimit] with
// DefaultPageLimit for non-positive values.
func (e *Engine) BidHistory(ctx context.Context, productID uuid.UUID, page, limit int) (*model.BidPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	if _, err := e.repo.GetProduct(ctx, productID); err != nil {
		return nil, normalize(err)
	}

	bids, total, err := e.repo.ListBids(ctx, productID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return &model.BidPage{Bids: bids, Total: total, Page: page, Limit: limit}, nil
}

// CanUserBid reports whether bidderID may bid on the product right now,
// using the same rules as PlaceBid except the amount checks.
func (e *Engine) CanUserBid(ctx context.Context, productID, bidderID uuid.UUID) (*model.Eligibility, error) {
	p, err := e.repo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ineligible(ErrProductNotFound), nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	if err := checkSeller(p, bidderID); err != nil {
		return ineligible(err), nil
	}
	if err := e.checkOpen(p, bidderID, e.now(), e.lookupRating(ctx, bidderID)); err != nil {
		var bidErr *Error
		if errors.As(err, &bidErr) {
			return ineligible(bidErr), nil
		}
		return nil, err
	}
	return &model.Eligibility{CanBid: true}, nil
}

// CloseExpiredAuctions ends every active auction whose deadline passed.
func (e *Engine) CloseExpiredAuctions(ctx context.Context) (*model.CloseSummary, error) {
	return e.closer.CloseExpired(ctx)
}

// CancelAuction moves an active auction to CANCELLED.
func (e *Engine) CancelAuction(ctx context.Context, productID uuid.UUID) error {
	var (
		cancelled *model.Product
		at        time.Time
	)
	err := e.gate.Do(ctx, productID, func(ctx context.Context) error {
		return e.repo.InProductTx(ctx, productID, func(tx database.ProductTx) error {
			p := tx.Product()
			if p.Status != model.StatusActive {
				return ErrAuctionClosed.with("auction is already %s", p.Status)
			}
			at = e.now()
			p.Status = model.StatusCancelled
			p.UpdatedAt = at
			if err := tx.SaveProduct(ctx, p); err != nil {
				return fmt.Errorf("save product: %w", err)
			}
			cancelled = p
			return nil
		})
	})
	if err != nil {
		return normalize(err)
	}

	e.metrics.RecordClosed(model.EndReasonCancelled)
	e.logger.Info("Auction cancelled", "product", productID)
	e.emit(ctx, model.NewAuctionEnded(cancelled, model.EndReasonCancelled, at))
	return nil
}

func checkSeller(p *model.Product, bidderID uuid.UUID) error {
	if p.SellerID == bidderID {
		return ErrSellerCannotBid
	}
	return nil
}

// checkOpen verifies the auction state, the deny list and the rating gate.
func (e *Engine) checkOpen(p *model.Product, bidderID uuid.UUID, at time.Time, rating ratingLookup) error {
	if p.Status != model.StatusActive {
		return ErrAuctionClosed.with("auction is %s", p.Status)
	}
	if !at.Before(p.EndTime) {
		return ErrAuctionClosed.with("auction ended at %s", p.EndTime.UTC().Format(time.RFC3339))
	}
	if p.IsDenied(bidderID) {
		return ErrBidderDenied
	}
	if e.minRating <= 0 {
		return nil
	}
	if rating.err != nil {
		return rating.err
	}
	if percent, rated := rating.rating.PositivePercent(); rated && percent < e.minRating {
		return ErrRatingTooLow.with("positive rating %.1f%% is below the required %.1f%%", percent, e.minRating)
	}
	return nil
}

// ratingLookup is a bidder's rating as read before any product lock.
type ratingLookup struct {
	rating model.BidderRating
	err    error
}

// lookupRating reads the bidder's rating when the rating gate is on. An
// unrated bidder yields a zero rating, which PositivePercent reports as unrated.
func (e *Engine) lookupRating(ctx context.Context, bidderID uuid.UUID) ratingLookup {
	if e.minRating <= 0 {
		return ratingLookup{}
	}
	rating, err := e.repo.BidderRating(ctx, bidderID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ratingLookup{}
	case err != nil:
		return ratingLookup{err: fmt.Errorf("get bidder rating: %w", err)}
	}
	return ratingLookup{rating: rating}
}

func ineligible(err error) *model.Eligibility {
	el := &model.Eligibility{CanBid: false, Reason: err.Error()}
	var bidErr *Error
	if errors.As(err, &bidErr) {
		el.Code = bidErr.Code
		el.Reason = bidErr.Message
	}
	return el
}

// normalize maps storage sentinels that reach the caller onto bidding errors.
func normalize(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrProductNotFound
	}
	return err
}

func (e *Engine) recordRejection(err error) {
	var bidErr *Error
	if errors.As(err, &bidErr) {
		e.metrics.RecordBidRejected(bidErr.Code)
		e.logger.Debug("Bid rejected", "code", bidErr.Code, "reason", bidErr.Message)
		return
	}
	e.metrics.RecordBidRejected("INTERNAL")
	e.logger.Error("Bid failed", "error", err)
}

// emit delivers ev after commit. Delivery failures are logged only.
func (e *Engine) emit(ctx context.Context, ev model.Event) {
	if err := e.emitter.Emit(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Error("Failed to emit event", "type", ev.Type, "product", ev.ProductID, "error", err)
	}
}
