package bidding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gavel/internal/database"
	"gavel/internal/model"
)

func TestCloser_ClosesExpiredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unsold := f.createProduct(t, 30*time.Minute)
	later := f.createProduct(t, 3*time.Hour)

	f.bid(t, alice, "1200")
	f.clock.Advance(time.Second)
	f.bid(t, bob, "1500")

	f.clock.Advance(2 * time.Hour)
	summary, err := f.engine.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ClosedCount)
	assert.ElementsMatch(t, []uuid.UUID{f.product.ID, unsold.ID}, summary.Closed)

	sold := f.stored(t)
	assert.Equal(t, model.StatusEnded, sold.Status)
	assert.Equal(t, bob, *sold.CurrentWinnerID)
	assert.Equal(t, "1250", sold.CurrentPrice.String())

	unsoldStored, err := f.repo.GetProduct(ctx, unsold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, unsoldStored.Status)
	assert.Nil(t, unsoldStored.CurrentWinnerID)

	laterStored, err := f.repo.GetProduct(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, laterStored.Status)

	ended := f.emitter.OfType(model.EventAuctionEnded)
	require.Len(t, ended, 2)
	for _, ev := range ended {
		assert.Equal(t, model.EndReasonExpired, ev.Reason)
		if ev.ProductID == unsold.ID {
			assert.Nil(t, ev.WinnerID)
		} else {
			assert.Equal(t, bob, *ev.WinnerID)
			assert.Equal(t, "1250", ev.Price.String())
		}
	}

	summary, err = f.engine.CloseExpiredAuctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ClosedCount)
	assert.Empty(t, summary.Closed)
	assert.Len(t, f.emitter.OfType(model.EventAuctionEnded), 2)

	_, err = f.engine.PlaceBid(ctx, f.product.ID, carol, dec("3000"))
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestCloser_ClosesAtExactDeadline(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(time.Hour)

	summary, err := f.engine.CloseExpiredAuctions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.ClosedCount)
}

// staleListing reports every product as expired, like a listing taken
// before a late bid extended the deadline.
type staleListing struct {
	*database.MemoryRepository
	ids []uuid.UUID
}

func (s staleListing) ExpiredProductIDs(context.Context, time.Time) ([]uuid.UUID, error) {
	return s.ids, nil
}

func TestCloser_RechecksUnderGate(t *testing.T) {
	f := newFixture(t)
	repo := staleListing{MemoryRepository: f.repo, ids: []uuid.UUID{f.product.ID}}
	engine := NewEngine(discardLogger(), repo, nil, f.emitter, WithNow(f.clock.Now))

	summary, err := engine.CloseExpiredAuctions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, summary.ClosedCount)
	assert.Equal(t, model.StatusActive, f.stored(t).Status)
	assert.Empty(t, f.emitter.Events())
}

func TestCloser_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()
	repo := staleListing{MemoryRepository: f.repo, ids: []uuid.UUID{missing, f.product.ID}}
	engine := NewEngine(discardLogger(), repo, nil, f.emitter, WithNow(f.clock.Now))
	f.clock.Advance(2 * time.Hour)

	summary, err := engine.CloseExpiredAuctions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.product.ID}, summary.Closed)
}

func TestCloser_JoinsErrors(t *testing.T) {
	repo := new(MockRepository)
	a, b := uuid.New(), uuid.New()
	boom := errors.New("lock timeout")
	repo.On("ExpiredProductIDs", mock.Anything, mock.Anything).Return([]uuid.UUID{a, b}, nil)
	repo.On("InProductTx", mock.Anything, a, mock.Anything).Return(boom)
	repo.On("InProductTx", mock.Anything, b, mock.Anything).Return(nil)

	engine := NewEngine(discardLogger(), repo, nil, nil)

	summary, err := engine.CloseExpiredAuctions(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, a.String())
	assert.Equal(t, 0, summary.ClosedCount)
	repo.AssertExpectations(t)
}

func TestCloser_ListFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ExpiredProductIDs", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewEngine(discardLogger(), repo, nil, nil).CloseExpiredAuctions(context.Background())

	assert.ErrorContains(t, err, "list expired auctions")
}

func TestCloser_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Closer().Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.stored(t).Status == model.StatusEnded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closer did not stop")
	}
	assert.Len(t, f.emitter.OfType(model.EventAuctionEnded), 1)
}
