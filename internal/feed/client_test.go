package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gavel/internal/model"
	"gavel/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHubServer(t *testing.T, hub *notify.Hub) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/ws/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		hub.ServeProduct(w, r, id)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_URL(t *testing.T) {
	id := uuid.MustParse("6f1c1c3e-3b1a-4f1e-9a51-0c7d1b2e3f40")

	c, err := NewClient(discardLogger(), "https://auctions.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://auctions.example.com/ws/products/"+id.String(), c.URL(id))

	c, err = NewClient(discardLogger(), "http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/products/"+id.String(), c.URL(id))

	_, err = NewClient(discardLogger(), "ftp://localhost")
	assert.Error(t, err)
}

func TestClient_StreamUntilAuctionEnds(t *testing.T) {
	hub := notify.NewHub(discardLogger(), nil)
	srv := newHubServer(t, hub)
	id := uuid.New()

	c, err := NewClient(discardLogger(), srv.URL)
	require.NoError(t, err)

	out := make(chan model.Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Stream(context.Background(), id, out) }()

	require.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Emit(ctx, model.Event{Type: model.EventBidPlaced, ProductID: id, Price: decimal.NewFromInt(1000), BidCount: 1}))
	require.NoError(t, hub.Emit(ctx, model.Event{Type: model.EventAuctionEnded, ProductID: id, Price: decimal.NewFromInt(1000), Reason: model.EndReasonExpired}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after auction:ended")
	}

	require.Len(t, out, 2)
	first := <-out
	assert.Equal(t, model.EventBidPlaced, first.Type)
	assert.Equal(t, "1000", first.Price.String())
	second := <-out
	assert.Equal(t, model.EndReasonExpired, second.Reason)
}

func TestClient_ReconnectsWithBackoff(t *testing.T) {
	var attempts int32
	hub := notify.NewHub(discardLogger(), nil)
	id := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		hub.ServeProduct(w, r, id)
	}))
	defer srv.Close()

	c, err := NewClient(discardLogger(), srv.URL)
	require.NoError(t, err)
	c.initialBackoff = time.Millisecond
	c.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Event, 1)
	done := make(chan error, 1)
	go func() { done <- c.Stream(ctx, id, out) }()

	require.Eventually(t, func() bool { return hub.Subscribers(id) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestClient_WaitCapsBackoff(t *testing.T) {
	c := &Client{initialBackoff: time.Millisecond, maxBackoff: 3 * time.Millisecond}
	backoff := 2 * time.Millisecond

	require.True(t, c.wait(context.Background(), &backoff))
	assert.Equal(t, 3*time.Millisecond, backoff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.wait(ctx, &backoff))
}
