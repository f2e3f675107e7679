package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types emitted to notification sinks.
const (
	EventBidPlaced    = "bid:placed"
	EventAuctionEnded = "auction:ended"
)

// Reasons attached to auction:ended.
const (
	EndReasonBuyNow    = "buy_now"
	EndReasonExpired   = "expired"
	EndReasonCancelled = "cancelled"
)

// Event is a notification about a committed state change of one product.
type Event struct {
	Type      string          `json:"type"`
	ProductID uuid.UUID       `json:"productId"`
	Price     decimal.Decimal `json:"currentPrice"`
	WinnerID  *uuid.UUID      `json:"winnerId,omitempty"`
	BidCount  int             `json:"bidCount"`
	EndTime   time.Time       `json:"endTime"`
	Extended  bool            `json:"extended,omitempty"`
	IsAutoBid bool            `json:"isAutoBid,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"timestamp"`

	// FinalPrice is the hammer price; set on auction:ended only.
	FinalPrice *decimal.Decimal `json:"finalPrice,omitempty"`
}

// NewBidPlaced builds the bid:placed event from the committed product.
func NewBidPlaced(p *Product, res *BidResult, at time.Time) Event {
	winner := res.WinnerID
	return Event{
		Type:      EventBidPlaced,
		ProductID: p.ID,
		Price:     p.CurrentPrice,
		WinnerID:  &winner,
		BidCount:  p.BidCount,
		EndTime:   p.EndTime,
		Extended:  res.Extended,
		IsAutoBid: res.IsAutoBid,
		At:        at,
	}
}

// NewAuctionEnded builds the auction:ended event from the committed product.
func NewAuctionEnded(p *Product, reason string, at time.Time) Event {
	final := p.CurrentPrice
	ev := Event{
		Type:       EventAuctionEnded,
		ProductID:  p.ID,
		Price:      p.CurrentPrice,
		BidCount:   p.BidCount,
		EndTime:    p.EndTime,
		Reason:     reason,
		At:         at,
		FinalPrice: &final,
	}
	if p.CurrentWinnerID != nil {
		w := *p.CurrentWinnerID
		ev.WinnerID = &w
	}
	return ev
}
