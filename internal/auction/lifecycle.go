package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
)

// transition applies one state machine edge to the locked item.
func transition(ctx context.Context, tx *sql.Tx, item *models.AuctionItem, to models.ItemStatus, paymentDue *time.Time) error {
	if !CanTransition(item.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, to)
	}

	return store.UpdateItemStatus(ctx, tx, item.ID, store.StatusUpdate{
		From:           item.Status,
		To:             to,
		Version:        item.Version,
		PaymentDueTime: paymentDue,
	})
}

// CloseItem ends one auction whose deadline has passed: AUCTION_ENDED with a
// payment window when someone bid, FAILED otherwise. It fails with
// ErrInvalidTransition when the item is no longer ON_SALE or not yet due.
func (e *Engine) CloseItem(ctx context.Context, itemID uuid.UUID) (*models.AuctionItem, error) {
	item, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.Status != models.ItemStatusOnSale {
			return nil, fmt.Errorf("%w: item is %s", ErrInvalidTransition, item.Status)
		}
		if item.AuctionEndTime.After(now) {
			return nil, fmt.Errorf("%w: auction ends at %s", ErrInvalidTransition, item.AuctionEndTime)
		}

		if !item.HasBidder() {
			if err := transition(ctx, tx, item, models.ItemStatusFailed, nil); err != nil {
				return nil, err
			}
			item.Status = models.ItemStatusFailed

			return newEvent(models.EventAuctionFailed, recipients(&item.SellerID), models.AuctionFailedPayload{
				ItemID:   item.ID,
				ItemName: item.Name,
				SellerID: item.SellerID,
			})
		}

		due := now.Add(e.paymentWindow)
		if err := transition(ctx, tx, item, models.ItemStatusAuctionEnded, &due); err != nil {
			return nil, err
		}
		item.Status = models.ItemStatusAuctionEnded
		item.PaymentDueTime = &due

		return newEvent(models.EventAuctionWon, recipients(&item.SellerID, item.HighestBidderID), models.AuctionWonPayload{
			ItemID:         item.ID,
			ItemName:       item.Name,
			SellerID:       item.SellerID,
			WinnerID:       *item.HighestBidderID,
			FinalPrice:     item.CurrentPrice,
			PaymentDueTime: due,
		})
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ExpireItem forfeits a win whose payment window passed without confirmation.
func (e *Engine) ExpireItem(ctx context.Context, itemID uuid.UUID) (*models.AuctionItem, error) {
	item, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.Status != models.ItemStatusAuctionEnded {
			return nil, fmt.Errorf("%w: item is %s", ErrInvalidTransition, item.Status)
		}
		if item.PaymentDueTime == nil || item.PaymentDueTime.After(now) {
			return nil, fmt.Errorf("%w: payment window still open", ErrInvalidTransition)
		}

		if err := transition(ctx, tx, item, models.ItemStatusExpired, nil); err != nil {
			return nil, err
		}
		item.Status = models.ItemStatusExpired
		item.PaymentDueTime = nil

		return newEvent(models.EventPaymentExpired, recipients(&item.SellerID, item.HighestBidderID), models.PaymentExpiredPayload{
			ItemID:   item.ID,
			ItemName: item.Name,
			SellerID: item.SellerID,
			BuyerID:  *item.HighestBidderID,
			Price:    item.CurrentPrice,
		})
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ConfirmPayment is the payment collaborator's "mark sold" call. It succeeds
// only for the winner, while the item is AUCTION_ENDED and before the payment
// deadline; otherwise it fails with ErrInvalidTransition.
func (e *Engine) ConfirmPayment(ctx context.Context, itemID uuid.UUID, buyerID int64) (*models.AuctionItem, error) {
	item, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.Status != models.ItemStatusAuctionEnded {
			return nil, fmt.Errorf("%w: item is %s", ErrInvalidTransition, item.Status)
		}
		if item.PaymentDueTime == nil || !now.Before(*item.PaymentDueTime) {
			return nil, fmt.Errorf("%w: payment window closed", ErrInvalidTransition)
		}
		if item.HighestBidderID == nil || *item.HighestBidderID != buyerID {
			return nil, fmt.Errorf("%w: user %d did not win this auction", ErrForbidden, buyerID)
		}

		if err := transition(ctx, tx, item, models.ItemStatusSoldOut, nil); err != nil {
			return nil, err
		}
		if _, err := store.ConfirmPaymentIntents(ctx, tx, item.ID, buyerID); err != nil {
			return nil, err
		}
		item.Status = models.ItemStatusSoldOut
		item.PaymentDueTime = nil

		return newEvent(models.EventPaymentConfirmed, recipients(&item.SellerID, &buyerID), models.PaymentConfirmedPayload{
			ItemID:   item.ID,
			ItemName: item.Name,
			SellerID: item.SellerID,
			BuyerID:  buyerID,
			Price:    item.CurrentPrice,
		})
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// StartPayment opens a pending payment intent for the winner. Intents that are
// never confirmed are removed by CleanupStalePaymentIntents.
func (e *Engine) StartPayment(ctx context.Context, itemID uuid.UUID, buyerID int64) (*models.PaymentIntent, error) {
	var intent *models.PaymentIntent

	_, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.Status != models.ItemStatusAuctionEnded {
			return nil, fmt.Errorf("%w: item is %s", ErrInvalidTransition, item.Status)
		}
		if item.PaymentDueTime == nil || !now.Before(*item.PaymentDueTime) {
			return nil, fmt.Errorf("%w: payment window closed", ErrInvalidTransition)
		}
		if item.HighestBidderID == nil || *item.HighestBidderID != buyerID {
			return nil, fmt.Errorf("%w: user %d did not win this auction", ErrForbidden, buyerID)
		}

		created, err := store.CreatePaymentIntent(ctx, tx, &models.PaymentIntent{
			ItemID:    item.ID,
			BuyerID:   buyerID,
			Amount:    item.CurrentPrice,
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		intent = created
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	return intent, nil
}

// PendingPaymentIntentsBefore lists intents still pending since before t.
func (e *Engine) PendingPaymentIntentsBefore(ctx context.Context, t time.Time, limit int) ([]models.PaymentIntent, error) {
	return store.ListPendingPaymentIntentsBefore(ctx, e.db, t, limit)
}

// CleanupStalePaymentIntents deletes up to limit intents pending for longer than ttl.
func (e *Engine) CleanupStalePaymentIntents(ctx context.Context, ttl time.Duration, limit int) (int64, error) {
	return store.DeletePendingPaymentIntentsBefore(ctx, e.db, e.now().Add(-ttl), limit)
}

// SweepResult summarizes one bounded sweep batch.
type SweepResult struct {
	Selected     int
	Transitioned int
	Skipped      int
}

// CloseExpiredAuctions closes up to limit ON_SALE items whose deadline has
// passed. Items left over are picked up by the next call.
func (e *Engine) CloseExpiredAuctions(ctx context.Context, limit int) (SweepResult, error) {
	ids, err := store.ListItemsDueForClose(ctx, e.db, e.now(), limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("select auctions to close: %w", err)
	}
	return e.sweep(ctx, "close", ids, e.CloseItem)
}

// ExpireOverduePayments expires up to limit AUCTION_ENDED items past their payment deadline.
func (e *Engine) ExpireOverduePayments(ctx context.Context, limit int) (SweepResult, error) {
	ids, err := store.ListItemsDueForExpiry(ctx, e.db, e.now(), limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("select payments to expire: %w", err)
	}
	return e.sweep(ctx, "expire", ids, e.ExpireItem)
}

// sweep transitions each item in its own transaction. Cancellation is honoured
// between items only, so an interrupted sweep never leaves an item half done.
// Items that lost a race or are busy are skipped until the next run.
func (e *Engine) sweep(ctx context.Context, name string, ids []uuid.UUID, step func(context.Context, uuid.UUID) (*models.AuctionItem, error)) (SweepResult, error) {
	res := SweepResult{Selected: len(ids)}
	itemCtx := context.WithoutCancel(ctx)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		_, err := step(itemCtx, id)
		switch {
		case err == nil:
			res.Transitioned++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrContention), errors.Is(err, ErrNotFound):
			log.Printf("[sweep:%s] skipping item %s: %v", name, id, err)
			res.Skipped++
		default:
			return res, fmt.Errorf("%s item %s: %w", name, id, err)
		}
	}

	return res, nil
}
