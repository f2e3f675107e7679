package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidResult is returned to a bidder whose bid was accepted.
type BidResult struct {
	BidID           uuid.UUID       `json:"bidId"`
	ProductID       uuid.UUID       `json:"productId"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	WinnerID        uuid.UUID       `json:"winnerId"`
	BidCount        int             `json:"bidCount"`
	Status          Status          `json:"status"`
	IsAutoBid       bool            `json:"isAutoBid"`
	BuyNowTriggered bool            `json:"buyNowTriggered"`
	Extended        bool            `json:"extended"`
	NewEndTime      time.Time       `json:"newEndTime"`
}

// WinnerView is the public standing of an auction.
type WinnerView struct {
	ProductID     uuid.UUID       `json:"productId"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	CurrentWinner *uuid.UUID      `json:"currentWinner"`
	BidCount      int             `json:"bidCount"`
	Status        Status          `json:"status"`
	EndTime       time.Time       `json:"endTime"`
	LastBid       *Bid            `json:"lastBid"`
}

// BidPage is one page of a product's bid history.
type BidPage struct {
	Bids  []Bid `json:"bids"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// Eligibility answers whether a user may currently bid on a product.
type Eligibility struct {
	CanBid bool   `json:"canBid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CloseSummary reports the outcome of one expiry sweep.
type CloseSummary struct {
	ClosedCount int         `json:"closedCount"`
	Closed      []uuid.UUID `json:"closed"`
}
