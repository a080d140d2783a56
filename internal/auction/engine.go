// Package auction is the auction lifecycle and bid arbitration engine.
//
// Every mutation of an item, whether a bid, a scheduled transition, a payment
// confirmation or a soft delete, runs through Engine.mutate: one transaction
// that takes the item's row lock with a bounded wait, validates against the
// locked row, writes with a version compare-and-swap and records the outbox
// event. The event is dispatched only after commit.
package auction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/config"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
)

// EventDispatcher delivers a committed outbox event. It must not block on
// delivery failures or report them; the outbox relay covers redelivery.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt models.Event)
}

type Options struct {
	PaymentWindow time.Duration
	LockTimeout   time.Duration
	MaxRetries    int
	Now           func() time.Time
}

func OptionsFromConfig(cfg config.AuctionConfig) Options {
	return Options{
		PaymentWindow: cfg.PaymentWindow,
		LockTimeout:   cfg.BidLockTimeout,
		MaxRetries:    cfg.MaxRetries,
	}
}

type Engine struct {
	db            *sql.DB
	dispatcher    EventDispatcher
	paymentWindow time.Duration
	lockTimeout   time.Duration
	maxRetries    int
	now           func() time.Time
}

func New(db *sql.DB, dispatcher EventDispatcher, opts Options) *Engine {
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = 24 * time.Hour
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		db:            db,
		dispatcher:    dispatcher,
		paymentWindow: opts.PaymentWindow,
		lockTimeout:   opts.LockTimeout,
		maxRetries:    opts.MaxRetries,
		now:           opts.Now,
	}
}

// mutateFunc validates the locked item and applies its change inside tx. It
// returns the event to record, or nil for a change that emits nothing.
type mutateFunc func(tx *sql.Tx, item *models.AuctionItem, now time.Time) (*models.Event, error)

// mutate is the per-item atomic update primitive. It returns the item as it
// was locked and the recorded event, if any.
func (e *Engine) mutate(ctx context.Context, itemID uuid.UUID, fn mutateFunc) (*models.AuctionItem, *models.Event, error) {
	var (
		locked *models.AuctionItem
		evt    *models.Event
	)

	opts := database.DefaultTxOptions()
	opts.MaxRetries = e.maxRetries
	opts.LockTimeout = e.lockTimeout

	err := database.WithRetry(ctx, e.db, opts, func(tx *sql.Tx) error {
		locked, evt = nil, nil

		item, err := store.LockItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		now := e.now()
		out, err := fn(tx, item, now)
		if err != nil {
			return err
		}

		if out != nil {
			out.ItemID = item.ID
			out.CreatedAt = now
			if err := store.InsertEvent(ctx, tx, out); err != nil {
				return err
			}
		}

		locked, evt = item, out
		return nil
	})
	if err != nil {
		return nil, nil, translate(err)
	}

	// The change is committed; a caller that goes away must not cut delivery short.
	if evt != nil && e.dispatcher != nil {
		e.dispatcher.Dispatch(context.WithoutCancel(ctx), *evt)
	}

	return locked, evt, nil
}

func newEvent(typ models.EventType, recipients []int64, payload any) (*models.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	return &models.Event{
		ID:         uuid.New(),
		Type:       typ,
		Recipients: recipients,
		Payload:    data,
	}, nil
}

// recipients dedupes ids, dropping nil and zero references.
func recipients(ids ...*int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id == nil || *id == 0 || seen[*id] {
			continue
		}
		seen[*id] = true
		out = append(out, *id)
	}
	return out
}
