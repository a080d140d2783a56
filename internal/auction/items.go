package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
	"github.com/shopspring/decimal"
)

type CreateItemRequest struct {
	SellerID       int64
	Name           string
	Description    string
	Category       string
	StartingPrice  decimal.Decimal
	AuctionEndTime time.Time
}

func (r CreateItemRequest) validate(now time.Time) error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !r.StartingPrice.IsPositive() {
		errs = append(errs, errors.New("starting price must be positive"))
	}
	if !r.StartingPrice.Equal(r.StartingPrice.Round(2)) {
		errs = append(errs, errors.New("starting price must have at most two decimal places"))
	}
	if r.StartingPrice.GreaterThanOrEqual(MaxAmount) {
		errs = append(errs, fmt.Errorf("starting price must be below %s", MaxAmount))
	}
	if !r.AuctionEndTime.After(now) {
		errs = append(errs, errors.New("auction end time must be in the future"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}
	return nil
}

// CreateItem lists a new item ON_SALE with its current price at the starting price.
func (e *Engine) CreateItem(ctx context.Context, req CreateItemRequest) (*models.AuctionItem, error) {
	if err := req.validate(e.now()); err != nil {
		return nil, err
	}

	item, err := store.CreateItem(ctx, e.db, &models.AuctionItem{
		SellerID:       req.SellerID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Category:       req.Category,
		StartingPrice:  req.StartingPrice,
		AuctionEndTime: req.AuctionEndTime,
	})
	if err != nil {
		return nil, translate(err)
	}

	return item, nil
}

func (e *Engine) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	item, err := store.GetItem(ctx, e.db, id)
	if err != nil {
		return nil, translate(err)
	}
	return item, nil
}

func (e *Engine) ListItems(ctx context.Context, status models.ItemStatus, page, pageSize int) (*store.OffsetPage, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidItem, status)
	}
	return store.ListItems(ctx, e.db, status, page, pageSize)
}

// ListBids pages over the item's accepted bids, newest first.
func (e *Engine) ListBids(ctx context.Context, itemID uuid.UUID, cursor string, limit int) (*store.CursorPage, error) {
	if _, err := store.GetItem(ctx, e.db, itemID); err != nil {
		return nil, translate(err)
	}
	return store.ListBidsCursor(ctx, e.db, itemID, cursor, limit)
}

// DeleteItem soft-deletes an item on behalf of its seller. Deleted items are
// never selected by a sweep again.
func (e *Engine) DeleteItem(ctx context.Context, itemID uuid.UUID, sellerID int64) (*models.AuctionItem, error) {
	item, _, err := e.mutate(ctx, itemID, func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error) {
		if item.SellerID != sellerID {
			return nil, fmt.Errorf("%w: user %d is not the seller", ErrForbidden, sellerID)
		}
		if err := transition(ctx, tx, item, models.ItemStatusDeleted, nil); err != nil {
			return nil, err
		}
		item.Status = models.ItemStatusDeleted
		item.PaymentDueTime = nil

		return newEvent(models.EventItemDeleted, recipients(&item.SellerID, item.HighestBidderID), models.ItemDeletedPayload{
			ItemID:   item.ID,
			ItemName: item.Name,
			SellerID: item.SellerID,
		})
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (e *Engine) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return nil, fmt.Errorf("%w: email and name are required", ErrInvalidItem)
	}
	return store.CreateUser(ctx, e.db, email, name)
}

func (e *Engine) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := store.GetUser(ctx, e.db, id)
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (e *Engine) ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListUsers(ctx, e.db, page, pageSize)
}
