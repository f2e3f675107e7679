package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gavel/internal/model"
)

// Storage errors shared by every Repository implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same key exists.
	// The bid ledger is append-only and never overwrites a row.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when a concurrent writer changed the product
	// between read and commit. The caller must retry against fresh state.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error

	// CreateProduct inserts a new listing. Returns ErrDuplicateKey if the id exists.
	CreateProduct(ctx context.Context, p *model.Product) error

	// GetProduct returns a snapshot of the product without taking a lock.
	// Returns ErrNotFound if it does not exist.
	GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error)

	// DenyBidder blocks a bidder from further bids on a product.
	DenyBidder(ctx context.Context, productID, bidderID uuid.UUID) error

	// ListBids returns one page of the ledger ordered by visible amount
	// descending, then ledger position ascending, plus the total row count.
	ListBids(ctx context.Context, productID uuid.UUID, offset, limit int) ([]model.Bid, int, error)

	// LastBid returns the most recent ledger row. Returns ErrNotFound if none.
	LastBid(ctx context.Context, productID uuid.UUID) (*model.Bid, error)

	// ExpiredProductIDs lists ACTIVE products whose end time is at or before now.
	ExpiredProductIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// LoadSettings returns the stored auction settings. Returns ErrNotFound if unset.
	LoadSettings(ctx context.Context) (model.AuctionSettings, error)

	// BidderRating returns the rating of a user. Returns ErrNotFound if unrated.
	BidderRating(ctx context.Context, userID uuid.UUID) (model.BidderRating, error)

	// InProductTx runs fn inside a transaction scoped to one product. The
	// product is locked for the duration of fn; any write conflict surfaces
	// as ErrConflict and nothing from fn is persisted.
	InProductTx(ctx context.Context, productID uuid.UUID, fn func(tx ProductTx) error) error
}

// ProductTx is the read-modify-write view of a single product.
type ProductTx interface {
	// Product returns the locked product. Mutations become visible only
	// through SaveProduct.
	Product() *model.Product

	// Bids returns the full ledger in ledger order.
	Bids(ctx context.Context) ([]model.Bid, error)

	// AppendBid adds one row to the ledger. Seq is assigned by the store.
	AppendBid(ctx context.Context, b *model.Bid) error

	// SaveProduct writes the mutable bidding state of the product.
	SaveProduct(ctx context.Context, p *model.Product) error
}
