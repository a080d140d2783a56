package auction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
	"github.com/shopspring/decimal"
)

type BidResult struct {
	ItemID        uuid.UUID       `json:"item_id"`
	BidID         uuid.UUID       `json:"bid_id"`
	NewPrice      decimal.Decimal `json:"new_price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	Accepted      bool            `json:"accepted"`
}

// PlaceBid arbitrates one bid. Preconditions are checked in order against the
// locked item: open status, deadline not reached, amount above the current
// price, bidder not the seller. Concurrent bids on one item are serialized by
// the row lock, so a loser re-reads the winner's price and fails with
// ErrBidTooLow rather than overwriting it. A bid that cannot get the lock
// within the lock timeout, after bounded retries, fails with ErrContention.
func (e *Engine) PlaceBid(ctx context.Context, itemID uuid.UUID, bidderID int64, amount decimal.Decimal) (*BidResult, error) {
	var result *BidResult

	_, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.Status != models.ItemStatusOnSale {
			return nil, reject(ErrAuctionClosed, item.CurrentPrice)
		}
		if !now.Before(item.AuctionEndTime) {
			return nil, reject(ErrAuctionClosed, item.CurrentPrice)
		}
		if amount.LessThanOrEqual(item.CurrentPrice) {
			return nil, reject(ErrBidTooLow, item.CurrentPrice)
		}
		if bidderID == item.SellerID {
			return nil, reject(ErrInvalidBidder, item.CurrentPrice)
		}
		if !amount.Equal(amount.Round(2)) {
			return nil, reject(fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount), item.CurrentPrice)
		}
		if amount.GreaterThanOrEqual(MaxAmount) {
			return nil, reject(fmt.Errorf("%w: must be below %s", ErrInvalidAmount, MaxAmount), item.CurrentPrice)
		}

		bidder, err := store.GetUser(ctx, tx, bidderID)
		if err != nil {
			return nil, err
		}

		bid := &models.Bid{
			ID:        uuid.New(),
			ItemID:    item.ID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := store.InsertBid(ctx, tx, bid); err != nil {
			return nil, err
		}
		if err := store.UpdateItemBid(ctx, tx, item.ID, amount, bidderID, item.Version); err != nil {
			return nil, err
		}

		result = &BidResult{
			ItemID:        item.ID,
			BidID:         bid.ID,
			NewPrice:      amount,
			PreviousPrice: item.CurrentPrice,
			Accepted:      true,
		}

		var previous *int64
		if item.HighestBidderID != nil && *item.HighestBidderID != bidderID {
			previous = item.HighestBidderID
		}

		return newEvent(models.EventBidAccepted, recipients(&item.SellerID, previous), models.BidAcceptedPayload{
			ItemID:           item.ID,
			ItemName:         item.Name,
			SellerID:         item.SellerID,
			BidID:            bid.ID,
			BidderID:         bidderID,
			BidderName:       bidder.Name,
			NewPrice:         amount,
			PreviousPrice:    item.CurrentPrice,
			PreviousBidderID: previous,
			AuctionEndTime:   item.AuctionEndTime,
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
