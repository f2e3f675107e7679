package settings

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gavel/internal/database"
	"gavel/internal/model"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) LoadSettings(ctx context.Context) (model.AuctionSettings, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.AuctionSettings), args.Error(1)
}

func newTestCached(src Source, ttl time.Duration) (*Cached, *time.Time) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	c := NewCached(logger, src, model.DefaultAuctionSettings, ttl)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCached_ServesFromCacheWithinTTL(t *testing.T) {
	src := new(MockSource)
	stored := model.AuctionSettings{AutoExtendTriggerMinutes: 2, AutoExtendDurationMinutes: 3}
	src.On("LoadSettings", mock.Anything).Return(stored, nil).Twice()

	c, now := newTestCached(src, time.Minute)

	for i := 0; i < 3; i++ {
		s, err := c.Current(context.Background())
		require.NoError(t, err)
		assert.Equal(t, stored, s)
	}
	src.AssertNumberOfCalls(t, "LoadSettings", 1)

	*now = now.Add(time.Minute)
	_, err := c.Current(context.Background())
	require.NoError(t, err)
	src.AssertNumberOfCalls(t, "LoadSettings", 2)
}

func TestCached_FallbackWhenMissing(t *testing.T) {
	src := new(MockSource)
	src.On("LoadSettings", mock.Anything).Return(model.AuctionSettings{}, database.ErrNotFound).Once()

	c, _ := newTestCached(src, time.Minute)
	s, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAuctionSettings, s)
	src.AssertExpectations(t)
}

func TestCached_FallbackOnErrorIsNotCached(t *testing.T) {
	src := new(MockSource)
	stored := model.AuctionSettings{AutoExtendTriggerMinutes: 1, AutoExtendDurationMinutes: 1}
	src.On("LoadSettings", mock.Anything).Return(model.AuctionSettings{}, errors.New("db down")).Once()
	src.On("LoadSettings", mock.Anything).Return(stored, nil).Once()

	c, _ := newTestCached(src, time.Minute)

	s, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAuctionSettings, s)

	s, err = c.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, s)
	src.AssertExpectations(t)
}

func TestCached_InvalidStoredSettings(t *testing.T) {
	src := new(MockSource)
	src.On("LoadSettings", mock.Anything).Return(model.AuctionSettings{AutoExtendTriggerMinutes: 0, AutoExtendDurationMinutes: 5}, nil)

	c, _ := newTestCached(src, time.Minute)
	s, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAuctionSettings, s)
}

func TestCached_Invalidate(t *testing.T) {
	src := new(MockSource)
	src.On("LoadSettings", mock.Anything).Return(model.DefaultAuctionSettings, nil)

	c, _ := newTestCached(src, time.Hour)
	_, _ = c.Current(context.Background())
	c.Invalidate()
	_, _ = c.Current(context.Background())
	src.AssertNumberOfCalls(t, "LoadSettings", 2)
}

func TestStatic(t *testing.T) {
	s, err := Static{Settings: model.DefaultAuctionSettings}.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, s.AutoExtendTriggerMinutes)
	assert.Equal(t, 10, s.AutoExtendDurationMinutes)
}
