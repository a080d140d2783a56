package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/safar/go-auction-engine/internal/auction"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
	"github.com/shopspring/decimal"
)

type fakeEngine struct {
	Engine

	bidErr     error
	bidItem    uuid.UUID
	bidder     int64
	bidAmount  decimal.Decimal
	deleteErr  error
	deletedBy  int64
	confirmErr error
	createReq  auction.CreateItemRequest
	before     time.Time
	limit      int
}

func (f *fakeEngine) PlaceBid(_ context.Context, itemID uuid.UUID, bidderID int64, amount decimal.Decimal) (*auction.BidResult, error) {
	f.bidItem, f.bidder, f.bidAmount = itemID, bidderID, amount
	if f.bidErr != nil {
		return nil, f.bidErr
	}
	return &auction.BidResult{ItemID: itemID, BidID: uuid.New(), NewPrice: amount, Accepted: true}, nil
}

func (f *fakeEngine) DeleteItem(_ context.Context, itemID uuid.UUID, sellerID int64) (*models.AuctionItem, error) {
	f.deletedBy = sellerID
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &models.AuctionItem{ID: itemID, SellerID: sellerID, Status: models.ItemStatusDeleted}, nil
}

func (f *fakeEngine) ConfirmPayment(_ context.Context, itemID uuid.UUID, buyerID int64) (*models.AuctionItem, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &models.AuctionItem{ID: itemID, Status: models.ItemStatusSoldOut}, nil
}

func (f *fakeEngine) CreateItem(_ context.Context, req auction.CreateItemRequest) (*models.AuctionItem, error) {
	f.createReq = req
	return &models.AuctionItem{ID: uuid.New(), SellerID: req.SellerID, Name: req.Name, StartingPrice: req.StartingPrice,
		CurrentPrice: req.StartingPrice, Status: models.ItemStatusOnSale}, nil
}

func (f *fakeEngine) GetItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	return nil, fmt.Errorf("get item %s: %w", id, auction.ErrNotFound)
}

func (f *fakeEngine) ListBids(_ context.Context, _ uuid.UUID, cursor string, _ int) (*store.CursorPage, error) {
	if _, _, err := store.DecodeCursor(cursor); err != nil {
		return nil, err
	}
	return &store.CursorPage{Items: []models.Bid{}}, nil
}

func (f *fakeEngine) PendingPaymentIntentsBefore(_ context.Context, before time.Time, limit int) ([]models.PaymentIntent, error) {
	f.before, f.limit = before, limit
	return []models.PaymentIntent{{ID: uuid.New(), BuyerID: 9, Status: models.PaymentIntentPending}}, nil
}

func (f *fakeEngine) CreateUser(context.Context, string, string) (*models.User, error) {
	return nil, store.ErrDuplicateEmail
}

func serve(t *testing.T, engine Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	NewHandler(engine).Routes(router, nil)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestPlaceBidAccepted(t *testing.T) {
	engine := &fakeEngine{}
	id := uuid.New()

	rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+id.String()+"/bids", `{"bidder_id": 7, "amount": "150.00"}`, nil)

	check.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, id, engine.bidItem)
	check.Equal(t, int64(7), engine.bidder)
	check.True(t, engine.bidAmount.Equal(decimal.NewFromInt(150)))
}

func TestPlaceBidRejectionStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"too low", fmt.Errorf("place bid: %w", &auction.BidRejection{Reason: auction.ErrBidTooLow, CurrentPrice: decimal.NewFromInt(200)}), http.StatusConflict, "BID_TOO_LOW"},
		{"closed", &auction.BidRejection{Reason: auction.ErrAuctionClosed, CurrentPrice: decimal.NewFromInt(200)}, http.StatusConflict, "AUCTION_CLOSED"},
		{"seller", &auction.BidRejection{Reason: auction.ErrInvalidBidder}, http.StatusForbidden, "INVALID_BIDDER"},
		{"not found", auction.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"contention", fmt.Errorf("%w: lock timeout", auction.ErrContention), http.StatusServiceUnavailable, "CONTENTION"},
		{"precision", &auction.BidRejection{Reason: auction.ErrInvalidAmount}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"internal", fmt.Errorf("connection reset"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{bidErr: tt.err}
			rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/bids", `{"bidder_id": 7, "amount": 150}`, nil)

			check.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			check.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestBidTooLowCarriesCurrentPrice(t *testing.T) {
	engine := &fakeEngine{bidErr: &auction.BidRejection{Reason: auction.ErrBidTooLow, CurrentPrice: decimal.NewFromInt(200)}}
	rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/bids", `{"bidder_id": 7, "amount": 150}`, nil)

	check.Equal(t, "200.00", decode(t, rec).CurrentPrice)
}

func TestContentionSetsRetryAfter(t *testing.T) {
	engine := &fakeEngine{bidErr: auction.ErrContention}
	rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/bids", `{"bidder_id": 7, "amount": 150}`, nil)

	check.Equal(t, http.StatusServiceUnavailable, rec.Code)
	check.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestInternalErrorIsNotLeaked(t *testing.T) {
	engine := &fakeEngine{bidErr: fmt.Errorf("pq: password authentication failed")}
	rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/bids", `{"bidder_id": 7, "amount": 150}`, nil)

	check.Equal(t, "internal error", decode(t, rec).Error)
}

func TestBadRequests(t *testing.T) {
	engine := &fakeEngine{}

	rec := serve(t, engine, http.MethodPost, "/api/v1/items/not-a-uuid/bids", `{}`, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/bids", `{"amount": "abc"}`, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, engine, http.MethodDelete, "/api/v1/items/"+uuid.NewString(), ``, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteItemUsesHeader(t *testing.T) {
	engine := &fakeEngine{}
	rec := serve(t, engine, http.MethodDelete, "/api/v1/items/"+uuid.NewString(), ``, map[string]string{"X-User-ID": "42"})

	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, int64(42), engine.deletedBy)

	engine = &fakeEngine{deleteErr: fmt.Errorf("%w: not the seller", auction.ErrForbidden)}
	rec = serve(t, engine, http.MethodDelete, "/api/v1/items/"+uuid.NewString(), ``, map[string]string{"X-User-ID": "43"})
	check.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfirmAfterExpiryConflicts(t *testing.T) {
	engine := &fakeEngine{confirmErr: fmt.Errorf("%w: item is EXPIRED", auction.ErrInvalidTransition)}
	rec := serve(t, engine, http.MethodPost, "/api/v1/items/"+uuid.NewString()+"/payment/confirm", `{"buyer_id": 9}`, nil)

	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, "INVALID_TRANSITION", decode(t, rec).Code)
}

func TestCreateItemDecodesBody(t *testing.T) {
	engine := &fakeEngine{}
	body := `{"seller_id": 3, "name": "Lamp", "starting_price": "19.99", "auction_end_time": "2030-01-02T15:04:05Z"}`
	rec := serve(t, engine, http.MethodPost, "/api/v1/items", body, nil)

	check.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, int64(3), engine.createReq.SellerID)
	check.Equal(t, "19.99", engine.createReq.StartingPrice.String())
	check.Equal(t, 2030, engine.createReq.AuctionEndTime.Year())
}

func TestMalformedCursorIsBadRequest(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/api/v1/items/"+uuid.NewString()+"/bids?cursor=not-a-cursor", ``, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)
	check.Equal(t, "INVALID_REQUEST", decode(t, rec).Code)

	rec = serve(t, &fakeEngine{}, http.MethodGet, "/api/v1/items/"+uuid.NewString()+"/bids", ``, nil)
	check.Equal(t, http.StatusOK, rec.Code)
}

func TestListPendingPaymentIntents(t *testing.T) {
	engine := &fakeEngine{}
	rec := serve(t, engine, http.MethodGet, "/api/v1/payment-intents?status=PENDING&before=2030-01-02T15:04:05Z&limit=5", ``, nil)

	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC), engine.before.UTC())
	check.Equal(t, 5, engine.limit)

	var intents []models.PaymentIntent
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&intents))
	check.Equal(t, 1, len(intents))

	rec = serve(t, engine, http.MethodGet, "/api/v1/payment-intents?status=CONFIRMED", ``, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, engine, http.MethodGet, "/api/v1/payment-intents?before=yesterday", ``, nil)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItemNotFound(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/api/v1/items/"+uuid.NewString(), ``, nil)
	check.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicateEmailConflicts(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodPost, "/api/v1/users", `{"email": "a@b.c", "name": "A"}`, nil)
	check.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/health", ``, nil)
	check.Equal(t, http.StatusOK, rec.Code)
}
