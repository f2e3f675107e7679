package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"gavel/internal/database"
	"gavel/internal/model"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Product)
	return p, args.Error(1)
}

func (m *MockRepository) DenyBidder(ctx context.Context, productID, bidderID uuid.UUID) error {
	args := m.Called(ctx, productID, bidderID)
	return args.Error(0)
}

func (m *MockRepository) ListBids(ctx context.Context, productID uuid.UUID, offset, limit int) ([]model.Bid, int, error) {
	args := m.Called(ctx, productID, offset, limit)
	bids, _ := args.Get(0).([]model.Bid)
	return bids, args.Int(1), args.Error(2)
}

func (m *MockRepository) LastBid(ctx context.Context, productID uuid.UUID) (*model.Bid, error) {
	args := m.Called(ctx, productID)
	b, _ := args.Get(0).(*model.Bid)
	return b, args.Error(1)
}

func (m *MockRepository) ExpiredProductIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, now)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

func (m *MockRepository) LoadSettings(ctx context.Context) (model.AuctionSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.AuctionSettings), args.Error(1)
}

func (m *MockRepository) BidderRating(ctx context.Context, userID uuid.UUID) (model.BidderRating, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.BidderRating), args.Error(1)
}

func (m *MockRepository) InProductTx(ctx context.Context, productID uuid.UUID, fn func(tx database.ProductTx) error) error {
	args := m.Called(ctx, productID, fn)
	return args.Error(0)
}

var _ database.Repository = (*MockRepository)(nil)
