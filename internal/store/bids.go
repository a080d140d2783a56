package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/models"
)

const bidColumns = `id, item_id, bidder_id, amount, created_at`

func scanBid(row rowScanner, bid *models.Bid) error {
	return row.Scan(
		&bid.ID,
		&bid.ItemID,
		&bid.BidderID,
		&bid.Amount,
		&bid.CreatedAt,
	)
}

// InsertBid appends to the ledger. The ledger is never updated or deleted from.
func InsertBid(ctx context.Context, tx *sql.Tx, bid *models.Bid) error {
	if bid.ID == uuid.Nil {
		bid.ID = uuid.New()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO bids (id, item_id, bidder_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		bid.ID, bid.ItemID, bid.BidderID, bid.Amount, bid.CreatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err, "bids_bidder_id_fkey") {
			return database.ErrUserNotFound
		}
		return fmt.Errorf("insert bid: %w", err)
	}

	return nil
}

// GetLatestBid returns the highest, and therefore most recent, bid on an item.
func GetLatestBid(ctx context.Context, q DBTX, itemID uuid.UUID) (*models.Bid, error) {
	bid := &models.Bid{}

	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC
		LIMIT 1`

	err := scanBid(q.QueryRowContext(ctx, query, itemID), bid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest bid: %w", err)
	}

	return bid, nil
}

func CountBids(ctx context.Context, q DBTX, itemID uuid.UUID) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE item_id = $1`, itemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bids: %w", err)
	}
	return n, nil
}

// ListBidsCursor pages over an item's ledger, newest first.
func ListBidsCursor(ctx context.Context, q DBTX, itemID uuid.UUID, cursor string, limit int) (*CursorPage, error) {
	cursorData, hasCursor, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE item_id = $1
		  AND ($2 = FALSE OR amount < $3)
		ORDER BY amount DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, itemID, hasCursor, cursorData.Amount, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		var bid models.Bid
		if err := scanBid(rows, &bid); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(bids) > limit
	if hasMore {
		bids = bids[:limit]
	}

	var nextCursor string
	if hasMore && len(bids) > 0 {
		nextCursor = EncodeCursor(BidCursor{Amount: bids[len(bids)-1].Amount})
	}

	return &CursorPage{
		Items:      bids,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
