// Package feed follows the live event stream of one product.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gavel/internal/model"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 16 * time.Second
)

// Client subscribes to a gavel server's product rooms.
type Client struct {
	logger  *slog.Logger
	baseURL string
	dialer  *websocket.Dialer

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient creates a Client for the server at baseURL (http, https, ws or wss).
func NewClient(logger *slog.Logger, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	return &Client{
		logger:         logger,
		baseURL:        strings.TrimRight(u.String(), "/"),
		dialer:         websocket.DefaultDialer,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

// URL returns the websocket address of the product's room.
func (c *Client) URL(productID uuid.UUID) string {
	return c.baseURL + "/ws/products/" + productID.String()
}

// Stream delivers the product's events to out until ctx is cancelled or an
// auction:ended event arrives. Lost connections are re-established with
// exponential backoff.
func (c *Client) Stream(ctx context.Context, productID uuid.UUID, out chan<- model.Event) error {
	wsURL := c.URL(productID)
	backoff := c.initialBackoff
	for {
		if ctx.Err() != nil {
			c.logger.Info("FeedClient: context cancelled, shutting down")
			return nil
		}

		c.logger.Info("FeedClient: connecting to WebSocket", "url", wsURL, "backoff", backoff)
		conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.logger.Error("FeedClient: WebSocket connection failed", "error", err)
			if !c.wait(ctx, &backoff) {
				return nil
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = c.initialBackoff

		ended, err := c.read(ctx, conn, out)
		conn.Close()
		if ended {
			c.logger.Info("FeedClient: auction ended, stream complete", "product", productID)
			return nil
		}
		if ctx.Err() != nil {
			c.logger.Info("FeedClient: context cancelled, closing connection")
			return nil
		}
		c.logger.Error("FeedClient: connection lost", "error", err)
		if !c.wait(ctx, &backoff) {
			return nil
		}
	}
}

// read pumps one connection. It reports whether the auction ended.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, out chan<- model.Event) (bool, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}

		var ev model.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("FeedClient: failed to parse message", "error", err)
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if ev.Type == model.EventAuctionEnded {
			return true, nil
		}
	}
}

// wait sleeps for the current backoff and doubles it up to the cap.
// It returns false if ctx ended first.
func (c *Client) wait(ctx context.Context, backoff *time.Duration) bool {
	timer := time.NewTimer(*backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	*backoff *= 2
	if *backoff > c.maxBackoff {
		*backoff = c.maxBackoff
	}
	return true
}
