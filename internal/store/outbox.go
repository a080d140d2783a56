package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/models"
)

const eventColumns = `id, event_type, item_id, recipients, payload, created_at, published_at, delivered_sinks, attempts`

func scanEvent(row rowScanner, evt *models.Event) error {
	var (
		recipients  pq.Int64Array
		sinks       pq.StringArray
		payload     []byte
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&evt.ID,
		&evt.Type,
		&evt.ItemID,
		&recipients,
		&payload,
		&evt.CreatedAt,
		&publishedAt,
		&sinks,
		&evt.Attempts,
	)
	if err != nil {
		return err
	}

	evt.Recipients = []int64(recipients)
	evt.DeliveredSinks = []string(sinks)
	evt.Payload = payload
	evt.PublishedAt = nil
	if publishedAt.Valid {
		evt.PublishedAt = &publishedAt.Time
	}
	return nil
}

// InsertEvent writes an outbox row. Call it inside the transaction that makes
// the state change the event describes.
func InsertEvent(ctx context.Context, q DBTX, evt *models.Event) error {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO event_outbox (id, event_type, item_id, recipients, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID, evt.Type, evt.ItemID, pq.Array(evt.Recipients), []byte(evt.Payload), evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

func GetEvent(ctx context.Context, q DBTX, id uuid.UUID) (*models.Event, error) {
	evt := &models.Event{}

	err := scanEvent(q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM event_outbox WHERE id = $1`, id), evt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrEventNotFound
		}
		return nil, fmt.Errorf("get outbox event: %w", err)
	}

	return evt, nil
}

// MarkEventPublished records that every sink has the event and drops the
// delivery claim.
func MarkEventPublished(ctx context.Context, q DBTX, id uuid.UUID, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE event_outbox SET published_at = $1, claimed_until = NULL
		 WHERE id = $2 AND published_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

// MarkSinkDelivered records that one sink accepted the event, so redelivery
// skips it.
func MarkSinkDelivered(ctx context.Context, q DBTX, id uuid.UUID, sink string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE event_outbox SET delivered_sinks = array_append(delivered_sinks, $2::text)
		 WHERE id = $1 AND NOT ($2::text = ANY(delivered_sinks))`,
		id, sink)
	if err != nil {
		return fmt.Errorf("mark sink %s delivered: %w", sink, err)
	}
	return nil
}

// ReleaseEventClaim gives up a delivery claim so the next relay pass can
// retry the event.
func ReleaseEventClaim(ctx context.Context, q DBTX, id uuid.UUID) error {
	_, err := q.ExecContext(ctx,
		`UPDATE event_outbox SET claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release event claim: %w", err)
	}
	return nil
}

// ClaimEvent takes the delivery claim on one unpublished event until the given
// time and counts the attempt. ok is false when the event is already
// published or another dispatcher holds a live claim.
func ClaimEvent(ctx context.Context, q DBTX, id uuid.UUID, now, until time.Time) (*models.Event, bool, error) {
	evt := &models.Event{}

	err := scanEvent(q.QueryRowContext(ctx,
		`UPDATE event_outbox SET claimed_until = $3, attempts = attempts + 1
		 WHERE id = $1 AND published_at IS NULL
		   AND (claimed_until IS NULL OR claimed_until <= $2)
		 RETURNING `+eventColumns,
		id, now, until), evt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim outbox event: %w", err)
	}

	return evt, true, nil
}

// EventClaim selects the unpublished events a relay pass takes over.
type EventClaim struct {
	CreatedBefore time.Time
	Now           time.Time
	Until         time.Time
	MaxAttempts   int
	Limit         int
}

// ClaimUnpublishedEvents claims up to c.Limit unpublished events created
// before c.CreatedBefore that nobody holds and that have attempts left. The
// claim commits with the statement, so delivery I/O runs outside any
// transaction. Rows locked by a concurrent claimer are skipped.
func ClaimUnpublishedEvents(ctx context.Context, q DBTX, c EventClaim) ([]models.Event, error) {
	rows, err := q.QueryContext(ctx,
		`UPDATE event_outbox SET claimed_until = $3, attempts = attempts + 1
		 WHERE id IN (
		     SELECT id FROM event_outbox
		     WHERE published_at IS NULL AND created_at < $1
		       AND (claimed_until IS NULL OR claimed_until <= $2)
		       AND attempts < $4
		     ORDER BY created_at, id
		     LIMIT $5
		     FOR UPDATE SKIP LOCKED)
		 RETURNING `+eventColumns,
		c.CreatedBefore, c.Now, c.Until, c.MaxAttempts, c.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// ListEventsForItem returns every event recorded for an item, oldest first.
func ListEventsForItem(ctx context.Context, q DBTX, itemID uuid.UUID) ([]models.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM event_outbox
		 WHERE item_id = $1
		 ORDER BY created_at, id`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("list item events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]models.Event, error) {
	events := []models.Event{}
	for rows.Next() {
		var evt models.Event
		if err := scanEvent(rows, &evt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
