package bidding

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a bidding error for callers that map errors to a transport.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindState
	KindAuthorization
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error codes returned to clients.
const (
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeSellerCannotBid     = "SELLER_CANNOT_BID"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeAuctionClosed       = "AUCTION_CLOSED"
	CodeBidderDenied        = "BIDDER_DENIED"
	CodeRatingTooLow        = "RATING_TOO_LOW"
	CodeInsufficientBid     = "INSUFFICIENT_BID"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
)

// Error is a rejected bidding operation. Two errors match under errors.Is
// when their codes are equal, so callers can test against the sentinels
// below regardless of the message.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// with returns a copy of the sentinel carrying a specific message.
func (e *Error) with(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrProductNotFound = &Error{Code: CodeProductNotFound, Kind: KindNotFound, Message: "product not found"}
	ErrSellerCannotBid = &Error{Code: CodeSellerCannotBid, Kind: KindAuthorization, Message: "sellers cannot bid on their own products"}
	ErrInvalidAmount   = &Error{Code: CodeInvalidAmount, Kind: KindValidation, Message: "bid amount must be positive"}
	ErrAuctionClosed   = &Error{Code: CodeAuctionClosed, Kind: KindState, Message: "auction is not active"}
	ErrBidderDenied    = &Error{Code: CodeBidderDenied, Kind: KindAuthorization, Message: "bidder has been denied by the seller"}
	ErrRatingTooLow    = &Error{Code: CodeRatingTooLow, Kind: KindAuthorization, Message: "bidder rating is too low"}
	ErrInsufficientBid = &Error{Code: CodeInsufficientBid, Kind: KindValidation, Message: "bid is below the minimum"}

	ErrConcurrencyConflict = &Error{Code: CodeConcurrencyConflict, Kind: KindConflict, Message: "too many concurrent bids, please retry"}
)

func insufficientBid(minimum decimal.Decimal) *Error {
	return ErrInsufficientBid.with("bid must be at least %s", minimum.String())
}
