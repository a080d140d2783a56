package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
)

// Sink is one delivery target. The outbox tracks each sink by name, so a
// retry only reaches the sinks that have not accepted the event yet.
type Sink struct {
	Name    string
	Emitter Emitter
}

// NotifySink is the name the notification sink is tracked under.
const NotifySink = "notify"

type DispatcherOptions struct {
	// ClaimTTL bounds one delivery attempt. Another dispatcher may take the
	// event over once it passes.
	ClaimTTL    time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// Dispatcher publishes outbox events to its sinks and notifies recipients.
type Dispatcher struct {
	db          *sql.DB
	sinks       []Sink
	claimTTL    time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewDispatcher builds a dispatcher over sinks. A non-nil notifier becomes the
// last sink, tracked as NotifySink.
func NewDispatcher(db *sql.DB, opts DispatcherOptions, notifier Notifier, sinks ...Sink) *Dispatcher {
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier != nil {
		sinks = append(slices.Clone(sinks), Sink{Name: NotifySink, Emitter: notifySink{notifier}})
	}

	return &Dispatcher{
		db:          db,
		sinks:       sinks,
		claimTTL:    opts.ClaimTTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
}

// Dispatch delivers a committed event once. It claims the outbox row first,
// so a relay pass cannot deliver the same event concurrently. Sinks that fail
// are left for the relay; the error is only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.Event) {
	now := d.now()

	claimed, ok, err := store.ClaimEvent(ctx, d.db, evt.ID, now, now.Add(d.claimTTL))
	if err != nil {
		log.Printf("[dispatch] claim event %s: %v", evt.ID, err)
		return
	}
	if !ok {
		return
	}

	d.attempt(ctx, *claimed)
}

// Relay redelivers events still unpublished after grace, at most limit per
// call, and returns how many became fully delivered.
func (d *Dispatcher) Relay(ctx context.Context, grace time.Duration, limit int) (int, error) {
	now := d.now()

	pending, err := store.ClaimUnpublishedEvents(ctx, d.db, store.EventClaim{
		CreatedBefore: now.Add(-grace),
		Now:           now,
		Until:         now.Add(d.claimTTL),
		MaxAttempts:   d.maxAttempts,
		Limit:         limit,
	})
	if err != nil {
		return 0, fmt.Errorf("relay outbox: %w", err)
	}

	delivered := 0
	for _, evt := range pending {
		if ctx.Err() != nil {
			break
		}
		if d.attempt(ctx, evt) {
			delivered++
		}
	}

	return delivered, nil
}

// attempt delivers a claimed event to every sink it has not reached yet and
// reports whether all sinks now have it.
func (d *Dispatcher) attempt(ctx context.Context, evt models.Event) bool {
	ctx, cancel := context.WithTimeout(ctx, d.claimTTL)
	defer cancel()

	var errs []error
	for _, sink := range d.sinks {
		if slices.Contains(evt.DeliveredSinks, sink.Name) {
			continue
		}
		if err := sink.Emitter.Emit(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
			continue
		}
		if err := store.MarkSinkDelivered(ctx, d.db, evt.ID, sink.Name); err != nil {
			errs = append(errs, err)
		}
	}

	// Bookkeeping outlives the attempt's deadline.
	done := context.WithoutCancel(ctx)

	if len(errs) == 0 {
		if err := store.MarkEventPublished(done, d.db, evt.ID, d.now()); err != nil {
			log.Printf("[dispatch] mark event %s published: %v", evt.ID, err)
			return false
		}
		return true
	}

	if evt.Attempts >= d.maxAttempts {
		log.Printf("[dispatch] event %s (%s, item %s) abandoned after %d attempts: %v",
			evt.ID, evt.Type, evt.ItemID, evt.Attempts, errors.Join(errs...))
	} else {
		log.Printf("[dispatch] event %s (%s, item %s) left for relay, attempt %d: %v",
			evt.ID, evt.Type, evt.ItemID, evt.Attempts, errors.Join(errs...))
	}
	if err := store.ReleaseEventClaim(done, d.db, evt.ID); err != nil {
		log.Printf("[dispatch] release event %s: %v", evt.ID, err)
	}
	return false
}

// notifySink renders one notification per recipient.
type notifySink struct {
	notifier Notifier
}

func (n notifySink) Emit(ctx context.Context, evt models.Event) error {
	var errs []error
	for _, userID := range evt.Recipients {
		typ, msg, link, err := Message(evt, userID)
		if err != nil {
			log.Printf("[dispatch] render notification for event %s: %v", evt.ID, err)
			continue
		}
		if err := n.notifier.Notify(ctx, userID, typ, msg, link); err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}
