package bidding

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gavel/internal/model"
)

// Outcome is the resolved state of an auction after one accepted bid.
type Outcome struct {
	Price     decimal.Decimal
	WinnerID  uuid.UUID
	BuyNow    bool
	IsAutoBid bool
}

// MinimumBid returns the lowest maxAmount the product accepts next.
func MinimumBid(p *model.Product) decimal.Decimal {
	if p.BidCount == 0 {
		return p.StartPrice
	}
	return p.CurrentPrice.Add(p.StepPrice)
}

// standing is the ceiling a bidder currently holds and the ledger position
// at which they first reached it.
type standing struct {
	bidder  uuid.UUID
	ceiling decimal.Decimal
	pos     int
}

// Resolve computes the price and winner after bidder submits maxAmount
// against the product and its existing ledger. The new bid is treated as the
// latest ledger entry. Resolve does not mutate its arguments.
func Resolve(p *model.Product, ledger []model.Bid, bidder uuid.UUID, maxAmount decimal.Decimal) (Outcome, error) {
	if minimum := MinimumBid(p); maxAmount.LessThan(minimum) {
		return Outcome{}, insufficientBid(minimum)
	}

	if p.BuyNowPrice.Valid && maxAmount.GreaterThanOrEqual(p.BuyNowPrice.Decimal) {
		return Outcome{
			Price:    p.BuyNowPrice.Decimal,
			WinnerID: bidder,
			BuyNow:   true,
		}, nil
	}

	standings := standings(ledger, bidder, maxAmount)
	top := standings[0]

	second := p.StartPrice.Sub(p.StepPrice)
	if len(standings) > 1 {
		second = standings[1].ceiling
	}

	price := decimal.Min(top.ceiling, second.Add(p.StepPrice))
	if price.LessThan(p.CurrentPrice) {
		price = p.CurrentPrice
	}

	return Outcome{
		Price:     price,
		WinnerID:  top.bidder,
		IsAutoBid: top.bidder != bidder,
	}, nil
}

// standings folds the ledger plus the new bid into one standing per bidder,
// ordered by ceiling descending and then by who reached it first.
func standings(ledger []model.Bid, bidder uuid.UUID, maxAmount decimal.Decimal) []standing {
	ordered := make([]model.Bid, len(ledger))
	copy(ordered, ledger)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	byBidder := make(map[uuid.UUID]*standing, len(ordered)+1)
	var out []*standing
	raise := func(id uuid.UUID, amount decimal.Decimal, pos int) {
		s, ok := byBidder[id]
		if !ok {
			s = &standing{bidder: id, ceiling: amount, pos: pos}
			byBidder[id] = s
			out = append(out, s)
			return
		}
		if amount.GreaterThan(s.ceiling) {
			s.ceiling = amount
			s.pos = pos
		}
	}

	for i, b := range ordered {
		raise(b.BidderID, b.MaxAmount, i)
	}
	raise(bidder, maxAmount, len(ordered))

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ceiling.Cmp(out[j].ceiling); c != 0 {
			return c > 0
		}
		return out[i].pos < out[j].pos
	})

	result := make([]standing, len(out))
	for i, s := range out {
		result[i] = *s
	}
	return result
}
