package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel/internal/model"
)

func newTestProduct(endTime time.Time) *model.Product {
	return &model.Product{
		ID:           uuid.New(),
		SellerID:     uuid.New(),
		Title:        "Vintage camera",
		StartPrice:   decimal.NewFromInt(1000),
		StepPrice:    decimal.NewFromInt(50),
		BuyNowPrice:  decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		CurrentPrice: decimal.NewFromInt(1000),
		Status:       model.StatusActive,
		EndTime:      endTime,
		AutoExtend:   true,
		CreatedAt:    endTime.Add(-24 * time.Hour),
	}
}

func appendAccepted(t *testing.T, repo Repository, productID, bidderID uuid.UUID, max, visible int64, at time.Time) model.Bid {
	t.Helper()
	var bid model.Bid
	err := repo.InProductTx(context.Background(), productID, func(tx ProductTx) error {
		p := tx.Product()
		bid = model.Bid{
			ID:            uuid.New(),
			ProductID:     productID,
			BidderID:      bidderID,
			MaxAmount:     decimal.NewFromInt(max),
			VisibleAmount: decimal.NewFromInt(visible),
			CreatedAt:     at,
		}
		if err := tx.AppendBid(context.Background(), &bid); err != nil {
			return err
		}
		p.BidCount++
		p.CurrentPrice = bid.VisibleAmount
		p.CurrentWinnerID = &bidderID
		return tx.SaveProduct(context.Background(), p)
	})
	require.NoError(t, err)
	return bid
}

// runRepositoryContract exercises behaviour every Repository must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("create and get product", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		end := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
		p := newTestProduct(end)

		require.NoError(t, repo.CreateProduct(ctx, p))
		assert.ErrorIs(t, repo.CreateProduct(ctx, p), ErrDuplicateKey)

		got, err := repo.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.SellerID, got.SellerID)
		assert.True(t, p.StartPrice.Equal(got.StartPrice))
		assert.True(t, got.BuyNowPrice.Valid)
		assert.True(t, decimal.NewFromInt(5000).Equal(got.BuyNowPrice.Decimal))
		assert.Equal(t, model.StatusActive, got.Status)
		assert.Nil(t, got.CurrentWinnerID)
		assert.WithinDuration(t, end, got.EndTime, time.Millisecond)

		_, err = repo.GetProduct(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transaction appends ledger and saves product", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		p := newTestProduct(now.Add(time.Hour))
		require.NoError(t, repo.CreateProduct(ctx, p))

		alice, bob := uuid.New(), uuid.New()
		first := appendAccepted(t, repo, p.ID, alice, 1200, 1000, now)
		second := appendAccepted(t, repo, p.ID, bob, 1500, 1250, now.Add(time.Second))
		third := appendAccepted(t, repo, p.ID, alice, 1250, 1250, now.Add(2*time.Second))

		got, err := repo.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.BidCount)
		require.NotNil(t, got.CurrentWinnerID)
		assert.Equal(t, alice, *got.CurrentWinnerID)

		page, total, err := repo.ListBids(ctx, p.ID, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 3)
		assert.Equal(t, second.ID, page[0].ID)
		assert.Equal(t, third.ID, page[1].ID)
		assert.Equal(t, first.ID, page[2].ID)

		page, total, err = repo.ListBids(ctx, p.ID, 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, first.ID, page[0].ID)

		page, _, err = repo.ListBids(ctx, p.ID, 5, 10)
		require.NoError(t, err)
		assert.Empty(t, page)

		last, err := repo.LastBid(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, third.ID, last.ID)
		assert.Greater(t, last.Seq, int64(0))

		err = repo.InProductTx(ctx, p.ID, func(tx ProductTx) error {
			bids, err := tx.Bids(ctx)
			require.NoError(t, err)
			require.Len(t, bids, 3)
			assert.Equal(t, first.ID, bids[0].ID)
			assert.Equal(t, third.ID, bids[2].ID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed transaction persists nothing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := newTestProduct(time.Now().UTC().Add(time.Hour))
		require.NoError(t, repo.CreateProduct(ctx, p))

		boom := errors.New("boom")
		err := repo.InProductTx(ctx, p.ID, func(tx ProductTx) error {
			bid := model.Bid{
				ID:            uuid.New(),
				ProductID:     p.ID,
				BidderID:      uuid.New(),
				MaxAmount:     decimal.NewFromInt(2000),
				VisibleAmount: decimal.NewFromInt(1000),
				CreatedAt:     time.Now().UTC(),
			}
			require.NoError(t, tx.AppendBid(ctx, &bid))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, total, err := repo.ListBids(ctx, p.ID, 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		_, err = repo.LastBid(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		err = repo.InProductTx(ctx, uuid.New(), func(tx ProductTx) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired products", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		expired := newTestProduct(now.Add(-time.Minute))
		boundary := newTestProduct(now)
		live := newTestProduct(now.Add(time.Minute))
		ended := newTestProduct(now.Add(-time.Hour))
		ended.Status = model.StatusEnded
		for _, p := range []*model.Product{expired, boundary, live, ended} {
			require.NoError(t, repo.CreateProduct(ctx, p))
		}

		ids, err := repo.ExpiredProductIDs(ctx, now)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{expired.ID, boundary.ID}, ids)
	})

	t.Run("deny bidder", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := newTestProduct(time.Now().UTC().Add(time.Hour))
		require.NoError(t, repo.CreateProduct(ctx, p))

		bidder := uuid.New()
		require.NoError(t, repo.DenyBidder(ctx, p.ID, bidder))
		require.NoError(t, repo.DenyBidder(ctx, p.ID, bidder))

		got, err := repo.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDenied(bidder))
		assert.False(t, got.IsDenied(uuid.New()))

		assert.ErrorIs(t, repo.DenyBidder(ctx, uuid.New(), bidder), ErrNotFound)
	})

	t.Run("settings and ratings default to not found", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.LoadSettings(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.BidderRating(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
