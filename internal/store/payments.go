package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/models"
)

const paymentIntentColumns = `id, item_id, buyer_id, amount, status, created_at, updated_at`

func scanPaymentIntent(row rowScanner, pi *models.PaymentIntent) error {
	return row.Scan(
		&pi.ID,
		&pi.ItemID,
		&pi.BuyerID,
		&pi.Amount,
		&pi.Status,
		&pi.CreatedAt,
		&pi.UpdatedAt,
	)
}

func CreatePaymentIntent(ctx context.Context, q DBTX, pi *models.PaymentIntent) (*models.PaymentIntent, error) {
	created := &models.PaymentIntent{}

	id := pi.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := pi.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO payment_intents (id, item_id, buyer_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + paymentIntentColumns

	err := scanPaymentIntent(q.QueryRowContext(ctx, query,
		id, pi.ItemID, pi.BuyerID, pi.Amount, models.PaymentIntentPending, createdAt), created)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return created, nil
}

func GetPaymentIntent(ctx context.Context, q DBTX, id uuid.UUID) (*models.PaymentIntent, error) {
	pi := &models.PaymentIntent{}

	err := scanPaymentIntent(q.QueryRowContext(ctx,
		`SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1`, id), pi)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPaymentIntentNotFound
		}
		return nil, fmt.Errorf("get payment intent: %w", err)
	}

	return pi, nil
}

// ConfirmPaymentIntents marks the buyer's pending intents for an item confirmed.
func ConfirmPaymentIntents(ctx context.Context, tx *sql.Tx, itemID uuid.UUID, buyerID int64) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE payment_intents
		 SET status = $1, updated_at = NOW()
		 WHERE item_id = $2 AND buyer_id = $3 AND status = $4`,
		models.PaymentIntentConfirmed, itemID, buyerID, models.PaymentIntentPending)
	if err != nil {
		return 0, fmt.Errorf("confirm payment intents: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ListPendingPaymentIntentsBefore answers "payment intents pending since before t".
func ListPendingPaymentIntentsBefore(ctx context.Context, q DBTX, before time.Time, limit int) ([]models.PaymentIntent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+paymentIntentColumns+`
		 FROM payment_intents
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, id
		 LIMIT $3`,
		models.PaymentIntentPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payment intents: %w", err)
	}
	defer rows.Close()

	intents := []models.PaymentIntent{}
	for rows.Next() {
		var pi models.PaymentIntent
		if err := scanPaymentIntent(rows, &pi); err != nil {
			return nil, fmt.Errorf("scan payment intent: %w", err)
		}
		intents = append(intents, pi)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return intents, nil
}

// DeletePendingPaymentIntentsBefore removes up to limit stale pending intents.
// Rows locked by a concurrent confirmation are skipped and retried next run.
func DeletePendingPaymentIntentsBefore(ctx context.Context, q DBTX, before time.Time, limit int) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM payment_intents
		 WHERE id IN (
			SELECT id FROM payment_intents
			WHERE status = $1 AND created_at < $2
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )`,
		models.PaymentIntentPending, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete stale payment intents: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
