package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/safar/go-auction-engine/internal/database"
	"github.com/shopspring/decimal"
)

// Every error below is recoverable and leaves the item untouched.
var (
	ErrNotFound          = errors.New("not found")
	ErrAuctionClosed     = errors.New("auction closed")
	ErrBidTooLow         = errors.New("bid too low")
	ErrInvalidBidder     = errors.New("seller cannot bid on own item")
	ErrInvalidAmount     = errors.New("invalid bid amount")
	ErrContention        = errors.New("item busy, retry")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidItem       = errors.New("invalid item")
	ErrForbidden         = errors.New("forbidden")
)

// MaxAmount is the first amount a NUMERIC(15,2) price column cannot hold.
var MaxAmount = decimal.New(1, 13)

// BidRejection is returned when a bid fails a precondition. It carries the
// price the bidder saw, so a client can tell "outbid" from "auction ended".
type BidRejection struct {
	Reason       error
	CurrentPrice decimal.Decimal
}

func (e *BidRejection) Error() string {
	return fmt.Sprintf("%v (current price %s)", e.Reason, e.CurrentPrice)
}

func (e *BidRejection) Unwrap() error { return e.Reason }

func reject(reason error, price decimal.Decimal) error {
	return &BidRejection{Reason: reason, CurrentPrice: price}
}

// translate maps storage failures onto the engine's taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var exhausted *database.RetryExhaustedError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &exhausted):
		return fmt.Errorf("%w: %w", ErrContention, err)
	case errors.Is(err, database.ErrItemNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, database.ErrUserNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
