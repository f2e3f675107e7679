// Package api exposes the bidding engine over HTTP and websockets.
package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"gavel/internal/model"
	"gavel/internal/notify"
	"gavel/internal/observability"
)

// BidService is the engine surface the API needs.
type BidService interface {
	PlaceBid(ctx context.Context, productID, bidderID uuid.UUID, maxAmount decimal.Decimal) (*model.BidResult, error)
	CurrentWinner(ctx context.Context, productID uuid.UUID) (*model.WinnerView, error)
	BidHistory(ctx context.Context, productID uuid.UUID, page, limit int) (*model.BidPage, error)
	CanUserBid(ctx context.Context, productID, bidderID uuid.UUID) (*model.Eligibility, error)
	CloseExpiredAuctions(ctx context.Context) (*model.CloseSummary, error)
	CancelAuction(ctx context.Context, productID uuid.UUID) error
}

// Server holds the HTTP dependencies.
type Server struct {
	logger  *slog.Logger
	bids    BidService
	hub     *notify.Hub
	auth    *Authenticator
	metrics *observability.Metrics
}

// NewServer creates a Server. hub and metrics may be nil.
func NewServer(logger *slog.Logger, bids BidService, auth *Authenticator, hub *notify.Hub, metrics *observability.Metrics) *Server {
	return &Server{logger: logger, bids: bids, auth: auth, hub: hub, metrics: metrics}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.requestLogger, simpleCORS)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/bids", s.auth.Require(http.HandlerFunc(s.placeBid))).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/bids/product/{id}", s.auth.Optional(http.HandlerFunc(s.bidHistory))).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/bids/product/{id}/winner", s.auth.Optional(http.HandlerFunc(s.currentWinner))).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/bids/product/{id}/can-bid", s.auth.Require(http.HandlerFunc(s.canBid))).Methods(http.MethodGet, http.MethodOptions)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Handle("/close-expired-auctions", s.admin(s.closeExpired)).Methods(http.MethodPost, http.MethodOptions)
	admin.Handle("/products/{id}/cancel", s.admin(s.cancelAuction)).Methods(http.MethodPost, http.MethodOptions)

	if s.hub != nil {
		r.HandleFunc("/ws/products/{id}", s.productFeed).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.auth.Require(RequireRole(RoleAdmin, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("HTTP handler panic", "path", r.URL.Path, "panic", v)
				writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// simpleCORS answers preflight requests and allows any origin.
func simpleCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
