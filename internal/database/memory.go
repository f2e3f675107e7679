package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gavel/internal/model"
)

// MemoryRepository is an in-memory implementation of Repository.
// Transactions commit optimistically against Product.Version, so two
// engines sharing one MemoryRepository behave like two service instances
// sharing a database.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*model.Product
	bids     map[uuid.UUID][]model.Bid
	ratings  map[uuid.UUID]model.BidderRating
	settings *model.AuctionSettings
	seq      int64
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[uuid.UUID]*model.Product),
		bids:     make(map[uuid.UUID][]model.Bid),
		ratings:  make(map[uuid.UUID]model.BidderRating),
	}
}

// Compile-time interface check.
var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) Migrate(_ context.Context) error { return nil }

func (r *MemoryRepository) CreateProduct(_ context.Context, p *model.Product) error {
	if p == nil || p.ID == uuid.Nil {
		return ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[p.ID]; exists {
		return ErrDuplicateKey
	}
	r.products[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) GetProduct(_ context.Context, id uuid.UUID) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) DenyBidder(_ context.Context, productID, bidderID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return ErrNotFound
	}
	if p.IsDenied(bidderID) {
		return nil
	}
	p.DeniedBidderIDs = append(p.DeniedBidderIDs, bidderID)
	p.Version++
	return nil
}

func (r *MemoryRepository) ListBids(_ context.Context, productID uuid.UUID, offset, limit int) ([]model.Bid, int, error) {
	r.mu.RLock()
	ledger := append([]model.Bid(nil), r.bids[productID]...)
	r.mu.RUnlock()

	sort.SliceStable(ledger, func(i, j int) bool {
		if c := ledger[i].VisibleAmount.Cmp(ledger[j].VisibleAmount); c != 0 {
			return c > 0
		}
		return ledger[i].Before(ledger[j])
	})

	total := len(ledger)
	if offset >= total {
		return []model.Bid{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return ledger[offset:end], total, nil
}

func (r *MemoryRepository) LastBid(_ context.Context, productID uuid.UUID) (*model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ledger := r.bids[productID]
	if len(ledger) == 0 {
		return nil, ErrNotFound
	}
	last := ledger[len(ledger)-1]
	return &last, nil
}

func (r *MemoryRepository) ExpiredProductIDs(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for id, p := range r.products {
		if p.Status == model.StatusActive && !p.EndTime.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (r *MemoryRepository) LoadSettings(_ context.Context) (model.AuctionSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.settings == nil {
		return model.AuctionSettings{}, ErrNotFound
	}
	return *r.settings, nil
}

// SetSettings stores the global auction settings row.
func (r *MemoryRepository) SetSettings(s model.AuctionSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = &s
}

func (r *MemoryRepository) BidderRating(_ context.Context, userID uuid.UUID) (model.BidderRating, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rating, ok := r.ratings[userID]
	if !ok {
		return model.BidderRating{}, ErrNotFound
	}
	return rating, nil
}

// SetRating records the rating counts of a user.
func (r *MemoryRepository) SetRating(rating model.BidderRating) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings[rating.UserID] = rating
}

// InProductTx snapshots the product, runs fn against the snapshot and
// commits only if no other transaction committed in between.
func (r *MemoryRepository) InProductTx(ctx context.Context, productID uuid.UUID, fn func(tx ProductTx) error) error {
	r.mu.RLock()
	p, ok := r.products[productID]
	if !ok {
		r.mu.RUnlock()
		return ErrNotFound
	}
	tx := &memoryTx{
		repo:    r,
		product: p.Clone(),
		version: p.Version,
		ledger:  append([]model.Bid(nil), r.bids[productID]...),
	}
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type memoryTx struct {
	repo    *MemoryRepository
	product *model.Product
	version int64
	ledger  []model.Bid
	pending []model.Bid
	saved   *model.Product
}

func (t *memoryTx) Product() *model.Product { return t.product.Clone() }

func (t *memoryTx) Bids(_ context.Context) ([]model.Bid, error) {
	out := make([]model.Bid, 0, len(t.ledger)+len(t.pending))
	out = append(out, t.ledger...)
	out = append(out, t.pending...)
	return out, nil
}

func (t *memoryTx) AppendBid(_ context.Context, b *model.Bid) error {
	if b == nil || b.ID == uuid.Nil || b.ProductID != t.product.ID {
		return ErrInvalidInput
	}
	for _, existing := range t.ledger {
		if existing.ID == b.ID {
			return ErrDuplicateKey
		}
	}
	t.pending = append(t.pending, *b)
	return nil
}

func (t *memoryTx) SaveProduct(_ context.Context, p *model.Product) error {
	if p == nil || p.ID != t.product.ID {
		return ErrInvalidInput
	}
	t.saved = p.Clone()
	return nil
}

func (t *memoryTx) commit() error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[t.product.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != t.version {
		return ErrConflict
	}
	if t.saved == nil && len(t.pending) == 0 {
		return nil
	}

	for i := range t.pending {
		r.seq++
		t.pending[i].Seq = r.seq
	}
	r.bids[t.product.ID] = append(r.bids[t.product.ID], t.pending...)

	next := current
	if t.saved != nil {
		next = t.saved
		next.DeniedBidderIDs = current.DeniedBidderIDs
		next.CreatedAt = current.CreatedAt
	}
	next.Version = current.Version + 1
	r.products[t.product.ID] = next
	return nil
}
