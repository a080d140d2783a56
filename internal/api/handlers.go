// Package api exposes the auction engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/safar/go-auction-engine/internal/auction"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
	"github.com/shopspring/decimal"
)

// Engine is the subset of *auction.Engine the HTTP surface calls.
type Engine interface {
	CreateUser(ctx context.Context, email, name string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
	CreateItem(ctx context.Context, req auction.CreateItemRequest) (*models.AuctionItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	ListItems(ctx context.Context, status models.ItemStatus, page, pageSize int) (*store.OffsetPage, error)
	DeleteItem(ctx context.Context, itemID uuid.UUID, sellerID int64) (*models.AuctionItem, error)
	PlaceBid(ctx context.Context, itemID uuid.UUID, bidderID int64, amount decimal.Decimal) (*auction.BidResult, error)
	ListBids(ctx context.Context, itemID uuid.UUID, cursor string, limit int) (*store.CursorPage, error)
	StartPayment(ctx context.Context, itemID uuid.UUID, buyerID int64) (*models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, itemID uuid.UUID, buyerID int64) (*models.AuctionItem, error)
	PendingPaymentIntentsBefore(ctx context.Context, t time.Time, limit int) ([]models.PaymentIntent, error)
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes registers the REST surface on router. ws, when non-nil, serves
// /ws/items/{id}.
func (h *Handler) Routes(router *mux.Router, ws http.HandlerFunc) {
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", h.createUser).Methods(http.MethodPost)
	api.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	api.HandleFunc("/items", h.createItem).Methods(http.MethodPost)
	api.HandleFunc("/items", h.listItems).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", h.getItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", h.deleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}/bids", h.placeBid).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/bids", h.listBids).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/payment", h.startPayment).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/payment/confirm", h.confirmPayment).Methods(http.MethodPost)
	api.HandleFunc("/payment-intents", h.listPaymentIntents).Methods(http.MethodGet)

	if ws != nil {
		router.HandleFunc("/ws/items/{id}", ws).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.engine.CreateUser(r.Context(), req.Email, req.Name)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	result, err := h.engine.ListUsers(r.Context(), page, pageSize)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.engine.GetUser(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID       int64           `json:"seller_id"`
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		Category       string          `json:"category"`
		StartingPrice  decimal.Decimal `json:"starting_price"`
		AuctionEndTime time.Time       `json:"auction_end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.engine.CreateItem(r.Context(), auction.CreateItemRequest{
		SellerID:       req.SellerID,
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		StartingPrice:  req.StartingPrice,
		AuctionEndTime: req.AuctionEndTime,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	status := models.ItemStatus(r.URL.Query().Get("status"))

	result, err := h.engine.ListItems(r.Context(), status, page, pageSize)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.engine.GetItem(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	sellerID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	item, err := h.engine.DeleteItem(r.Context(), id, sellerID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req struct {
		BidderID int64           `json:"bidder_id"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.engine.PlaceBid(r.Context(), id, req.BidderID, req.Amount)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) listBids(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := h.engine.ListBids(r.Context(), id, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type buyerRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

func (h *Handler) startPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req buyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	intent, err := h.engine.StartPayment(r.Context(), id, req.BuyerID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, intent)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req buyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.engine.ConfirmPayment(r.Context(), id, req.BuyerID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, item)
}

// listPaymentIntents serves the payment collaborator's reconciliation query:
// intents still PENDING since before ?before= (RFC 3339, default now).
func (h *Handler) listPaymentIntents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if status := q.Get("status"); status != "" && models.PaymentIntentStatus(status) != models.PaymentIntentPending {
		respondError(w, http.StatusBadRequest, "Only PENDING intents can be listed")
		return
	}

	before := time.Now()
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid before timestamp")
			return
		}
		before = t
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	intents, err := h.engine.PendingPaymentIntentsBefore(r.Context(), before, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, intents)
}

func itemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid item ID")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
