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
	"github.com/shopspring/decimal"
)

const itemColumns = `id, seller_id, name, description, category, starting_price, current_price,
	highest_bidder_id, auction_end_time, payment_due_time, status,
	created_at, updated_at, deleted_at, version`

func scanItem(row rowScanner, item *models.AuctionItem) error {
	var (
		bidder     sql.NullInt64
		paymentDue sql.NullTime
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.Name,
		&item.Description,
		&item.Category,
		&item.StartingPrice,
		&item.CurrentPrice,
		&bidder,
		&item.AuctionEndTime,
		&paymentDue,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
		&deletedAt,
		&item.Version,
	)
	if err != nil {
		return err
	}

	item.HighestBidderID = nil
	if bidder.Valid {
		item.HighestBidderID = &bidder.Int64
	}
	item.PaymentDueTime = nil
	if paymentDue.Valid {
		item.PaymentDueTime = &paymentDue.Time
	}
	item.DeletedAt = nil
	if deletedAt.Valid {
		item.DeletedAt = &deletedAt.Time
	}

	return nil
}

func CreateItem(ctx context.Context, q DBTX, item *models.AuctionItem) (*models.AuctionItem, error) {
	created := &models.AuctionItem{}

	query := `
		INSERT INTO auction_items (id, seller_id, name, description, category, starting_price, current_price,
			auction_end_time, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, NOW(), NOW(), 1)
		RETURNING ` + itemColumns

	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	err := scanItem(q.QueryRowContext(ctx, query,
		id,
		item.SellerID,
		item.Name,
		item.Description,
		item.Category,
		item.StartingPrice,
		item.AuctionEndTime,
		models.ItemStatusOnSale,
	), created)
	if err != nil {
		if database.IsForeignKeyViolation(err, "") {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create item: %w", err)
	}

	return created, nil
}

func GetItem(ctx context.Context, q DBTX, id uuid.UUID) (*models.AuctionItem, error) {
	item := &models.AuctionItem{}

	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = $1`

	err := scanItem(q.QueryRowContext(ctx, query, id), item)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	return item, nil
}

// LockItem reads the item and holds its row lock until tx ends. This is the
// per-item serialization point shared by the bid path and every transition.
// A wait longer than the transaction's lock_timeout returns ErrLockTimeout.
func LockItem(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.AuctionItem, error) {
	item := &models.AuctionItem{}

	query := `SELECT ` + itemColumns + ` FROM auction_items WHERE id = $1 FOR UPDATE`

	err := scanItem(tx.QueryRowContext(ctx, query, id), item)
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}

	return item, nil
}

// UpdateItemBid applies an accepted bid. The version and status predicates make
// it a compare-and-swap against the view the caller validated.
func UpdateItemBid(ctx context.Context, tx *sql.Tx, id uuid.UUID, price decimal.Decimal, bidderID int64, version int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE auction_items
		 SET current_price = $1, highest_bidder_id = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3 AND version = $4 AND status = $5 AND current_price < $1`,
		price, bidderID, id, version, models.ItemStatusOnSale)
	if err != nil {
		return fmt.Errorf("update item bid: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// StatusUpdate describes one state machine step for UpdateItemStatus.
type StatusUpdate struct {
	From           models.ItemStatus
	To             models.ItemStatus
	Version        int
	PaymentDueTime *time.Time
}

// UpdateItemStatus moves an item from one status to another, guarded by the
// expected status and version. payment_due_time is replaced by the update's
// value, so leaving AUCTION_ENDED clears it.
func UpdateItemStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, upd StatusUpdate) error {
	var paymentDue sql.NullTime
	if upd.PaymentDueTime != nil {
		paymentDue = sql.NullTime{Time: *upd.PaymentDueTime, Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE auction_items
		 SET status = $1,
		     payment_due_time = $2,
		     deleted_at = CASE WHEN $1 = 'DELETED' THEN NOW() ELSE deleted_at END,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $3 AND status = $4 AND version = $5`,
		upd.To, paymentDue, id, upd.From, upd.Version)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// ListItemsDueForClose returns ids of ON_SALE items whose end time has passed,
// oldest deadline first, at most limit of them.
func ListItemsDueForClose(ctx context.Context, q DBTX, now time.Time, limit int) ([]uuid.UUID, error) {
	return listItemIDs(ctx, q,
		`SELECT id FROM auction_items
		 WHERE status = $1 AND auction_end_time <= $2
		 ORDER BY auction_end_time, id
		 LIMIT $3`,
		models.ItemStatusOnSale, now, limit)
}

// ListItemsDueForExpiry returns ids of AUCTION_ENDED items whose payment window has passed.
func ListItemsDueForExpiry(ctx context.Context, q DBTX, now time.Time, limit int) ([]uuid.UUID, error) {
	return listItemIDs(ctx, q,
		`SELECT id FROM auction_items
		 WHERE status = $1 AND payment_due_time <= $2
		 ORDER BY payment_due_time, id
		 LIMIT $3`,
		models.ItemStatusAuctionEnded, now, limit)
}

func listItemIDs(ctx context.Context, q DBTX, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ListItems pages over items that are not soft-deleted, newest first. An empty
// status lists every live status.
func ListItems(ctx context.Context, q DBTX, status models.ItemStatus, page, pageSize int) (*OffsetPage, error) {
	filter := `WHERE deleted_at IS NULL AND ($1 = '' OR status = $1)`

	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM auction_items `+filter, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + itemColumns + `
		FROM auction_items ` + filter + `
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []models.AuctionItem{}
	for rows.Next() {
		var item models.AuctionItem
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
