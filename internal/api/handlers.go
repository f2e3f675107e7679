package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"gavel/internal/bidding"
	"gavel/internal/model"
)

type placeBidRequest struct {
	ProductID uuid.UUID       `json:"productId"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

// bidView is the public form of a ledger row. The ceiling is never shown and
// other bidders are only identified by a masked id.
type bidView struct {
	ID            uuid.UUID       `json:"id"`
	Bidder        string          `json:"bidder"`
	IsMine        bool            `json:"isMine"`
	VisibleAmount decimal.Decimal `json:"visibleAmount"`
	IsAutoBid     bool            `json:"isAutoBid"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// winnerView masks the winner the same way bidView masks bidders.
type winnerView struct {
	ProductID     uuid.UUID       `json:"productId"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	CurrentWinner *string         `json:"currentWinner"`
	IsWinner      bool            `json:"isWinner"`
	BidCount      int             `json:"bidCount"`
	Status        string          `json:"status"`
	EndTime       time.Time       `json:"endTime"`
	LastBid       *bidView        `json:"lastBid"`
}

func newBidView(b model.Bid, caller Identity, authenticated bool) bidView {
	v := bidView{
		ID:            b.ID,
		Bidder:        maskID(b.BidderID),
		VisibleAmount: b.VisibleAmount,
		IsAutoBid:     b.IsAutoBid,
		CreatedAt:     b.CreatedAt,
	}
	if authenticated && b.BidderID == caller.UserID {
		v.Bidder = b.BidderID.String()
		v.IsMine = true
	}
	return v
}

// maskID keeps the last four characters of an id.
func maskID(id uuid.UUID) string {
	s := id.String()
	return "****" + s[len(s)-4:]
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.ProductID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse("productId is required",
			ErrorDetail{Code: "INVALID_REQUEST", Field: "productId", Message: "productId is required"}))
		return
	}

	result, err := s.bids.PlaceBid(r.Context(), req.ProductID, caller.UserID, req.MaxAmount)
	if err != nil {
		s.writeBidError(w, err)
		return
	}

	message := "Bid placed successfully"
	if result.BuyNowTriggered {
		message = "Buy now price reached, auction won"
	}
	writeJSON(w, http.StatusCreated, SuccessResponse(message, result, nil))
}

func (s *Server) bidHistory(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFrom(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", bidding.DefaultPageLimit)

	result, err := s.bids.BidHistory(r.Context(), productID, page, limit)
	if err != nil {
		s.writeBidError(w, err)
		return
	}

	caller, authenticated := IdentityFrom(r.Context())
	views := make([]bidView, 0, len(result.Bids))
	for _, b := range result.Bids {
		views = append(views, newBidView(b, caller, authenticated))
	}

	writeJSON(w, http.StatusOK, SuccessResponse("Bid history retrieved", views,
		NewPaginationMeta(result.Page, result.Limit, result.Total)))
}

func (s *Server) currentWinner(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFrom(w, r)
	if !ok {
		return
	}

	view, err := s.bids.CurrentWinner(r.Context(), productID)
	if err != nil {
		s.writeBidError(w, err)
		return
	}
	caller, authenticated := IdentityFrom(r.Context())
	out := winnerView{
		ProductID:    view.ProductID,
		CurrentPrice: view.CurrentPrice,
		BidCount:     view.BidCount,
		Status:       string(view.Status),
		EndTime:      view.EndTime,
	}
	if winner := view.CurrentWinner; winner != nil {
		shown := maskID(*winner)
		if authenticated && *winner == caller.UserID {
			shown = winner.String()
			out.IsWinner = true
		}
		out.CurrentWinner = &shown
	}
	if view.LastBid != nil {
		last := newBidView(*view.LastBid, caller, authenticated)
		out.LastBid = &last
	}
	writeJSON(w, http.StatusOK, SuccessResponse("Current winner retrieved", out, nil))
}

func (s *Server) canBid(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFrom(w, r)
	if !ok {
		return
	}
	caller, _ := IdentityFrom(r.Context())

	el, err := s.bids.CanUserBid(r.Context(), productID, caller.UserID)
	if err != nil {
		s.writeBidError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("Eligibility checked", el, nil))
}

func (s *Server) closeExpired(w http.ResponseWriter, r *http.Request) {
	summary, err := s.bids.CloseExpiredAuctions(r.Context())
	if err != nil && summary == nil {
		s.writeBidError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("Close sweep finished with errors", "error", err)
		writeJSON(w, http.StatusOK, APIResponse{
			Success:   false,
			Message:   "Some auctions could not be closed",
			Data:      summary,
			Error:     ErrorDetail{Code: "PARTIAL_FAILURE", Message: err.Error()},
			Timestamp: time.Now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("Expired auctions closed", summary, nil))
}

func (s *Server) cancelAuction(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFrom(w, r)
	if !ok {
		return
	}
	if err := s.bids.CancelAuction(r.Context(), productID); err != nil {
		s.writeBidError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("Auction cancelled", map[string]uuid.UUID{"productId": productID}, nil))
}

func (s *Server) productFeed(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDFrom(w, r)
	if !ok {
		return
	}
	s.hub.ServeProduct(w, r, productID)
}

// statusFor maps a bidding error kind to an HTTP status.
func statusFor(kind bidding.Kind) int {
	switch kind {
	case bidding.KindValidation:
		return http.StatusBadRequest
	case bidding.KindState:
		return http.StatusConflict
	case bidding.KindAuthorization:
		return http.StatusForbidden
	case bidding.KindNotFound:
		return http.StatusNotFound
	case bidding.KindConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeBidError(w http.ResponseWriter, err error) {
	var bidErr *bidding.Error
	if errors.As(err, &bidErr) {
		writeError(w, statusFor(bidErr.Kind), bidErr.Code, bidErr.Message)
		return
	}
	s.logger.Error("Request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
}

func productIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid product id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
