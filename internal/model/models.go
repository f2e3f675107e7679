package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auctioned product.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusEnded     Status = "ENDED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Product is an auction listing together with its live bidding state.
type Product struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	SellerID    uuid.UUID           `db:"seller_id" json:"sellerId"`
	Title       string              `db:"title" json:"title"`
	StartPrice  decimal.Decimal     `db:"start_price" json:"startPrice"`
	StepPrice   decimal.Decimal     `db:"step_price" json:"stepPrice"`
	BuyNowPrice decimal.NullDecimal `db:"buy_now_price" json:"buyNowPrice"`

	CurrentPrice    decimal.Decimal `db:"current_price" json:"currentPrice"`
	CurrentWinnerID *uuid.UUID      `db:"current_winner_id" json:"currentWinnerId,omitempty"`
	BidCount        int             `db:"bid_count" json:"bidCount"`
	Status          Status          `db:"status" json:"status"`
	EndTime         time.Time       `db:"end_time" json:"endTime"`
	AutoExtend      bool            `db:"auto_extend" json:"autoExtend"`

	// Optional per-product snapshot of the auto-extend settings, captured
	// at listing time. Nil means the global settings apply.
	ExtendTriggerMinutes  *int `db:"extend_trigger_minutes" json:"extendTriggerMinutes,omitempty"`
	ExtendDurationMinutes *int `db:"extend_duration_minutes" json:"extendDurationMinutes,omitempty"`

	DeniedBidderIDs []uuid.UUID `json:"-"`

	Version   int64     `db:"version" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// IsDenied reports whether the seller blocked the bidder on this product.
func (p *Product) IsDenied(bidderID uuid.UUID) bool {
	for _, id := range p.DeniedBidderIDs {
		if id == bidderID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (p *Product) Clone() *Product {
	c := *p
	if p.CurrentWinnerID != nil {
		w := *p.CurrentWinnerID
		c.CurrentWinnerID = &w
	}
	if p.ExtendTriggerMinutes != nil {
		v := *p.ExtendTriggerMinutes
		c.ExtendTriggerMinutes = &v
	}
	if p.ExtendDurationMinutes != nil {
		v := *p.ExtendDurationMinutes
		c.ExtendDurationMinutes = &v
	}
	c.DeniedBidderIDs = append([]uuid.UUID(nil), p.DeniedBidderIDs...)
	return &c
}

// Bid is one immutable row of the bid ledger.
type Bid struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	ProductID     uuid.UUID       `db:"product_id" json:"productId"`
	BidderID      uuid.UUID       `db:"bidder_id" json:"bidderId"`
	MaxAmount     decimal.Decimal `db:"max_amount" json:"maxAmount"`
	VisibleAmount decimal.Decimal `db:"visible_amount" json:"visibleAmount"`
	IsAutoBid     bool            `db:"is_auto_bid" json:"isAutoBid"`
	Seq           int64           `db:"seq" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// Before orders bids by ledger position.
func (b Bid) Before(o Bid) bool {
	if !b.CreatedAt.Equal(o.CreatedAt) {
		return b.CreatedAt.Before(o.CreatedAt)
	}
	return b.Seq < o.Seq
}

// AuctionSettings holds the global auto-extend policy.
type AuctionSettings struct {
	AutoExtendTriggerMinutes  int `db:"auto_extend_trigger_minutes" json:"autoExtendTriggerMinutes"`
	AutoExtendDurationMinutes int `db:"auto_extend_duration_minutes" json:"autoExtendDurationMinutes"`
}

// DefaultAuctionSettings mirrors the values the marketplace shipped with.
var DefaultAuctionSettings = AuctionSettings{
	AutoExtendTriggerMinutes:  5,
	AutoExtendDurationMinutes: 10,
}

// Valid reports whether both durations are positive.
func (s AuctionSettings) Valid() bool {
	return s.AutoExtendTriggerMinutes > 0 && s.AutoExtendDurationMinutes > 0
}

// BidderRating is the aggregate feedback other users left for a bidder.
type BidderRating struct {
	UserID   uuid.UUID `db:"user_id"`
	Positive int       `db:"positive"`
	Negative int       `db:"negative"`
}

// PositivePercent returns the positive share in percent and whether any
// rating exists.
func (r BidderRating) PositivePercent() (float64, bool) {
	total := r.Positive + r.Negative
	if total == 0 {
		return 0, false
	}
	return float64(r.Positive) / float64(total) * 100, true
}
