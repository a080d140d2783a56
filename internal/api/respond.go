package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/safar/go-auction-engine/internal/auction"
	"github.com/safar/go-auction-engine/internal/store"
)

type errorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	CurrentPrice string `json:"current_price,omitempty"`
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, auction.ErrAuctionClosed):
		return http.StatusConflict, "AUCTION_CLOSED"
	case errors.Is(err, auction.ErrBidTooLow):
		return http.StatusConflict, "BID_TOO_LOW"
	case errors.Is(err, auction.ErrInvalidBidder):
		return http.StatusForbidden, "INVALID_BIDDER"
	case errors.Is(err, auction.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, auction.ErrContention):
		return http.StatusServiceUnavailable, "CONTENTION"
	case errors.Is(err, auction.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, auction.ErrInvalidItem), errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidCursor):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict, "DUPLICATE_EMAIL"
	}
	return http.StatusInternalServerError, ""
}

func respondEngineError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)

	resp := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		log.Printf("[api] internal error: %v", err)
		resp.Error = "internal error"
	}

	var rejection *auction.BidRejection
	if errors.As(err, &rejection) {
		resp.CurrentPrice = rejection.CurrentPrice.StringFixed(2)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	respondJSON(w, status, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[api] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
