package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidCursor reports a cursor this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

type CursorPage struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

type OffsetPage struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// BidCursor points at the last bid of a page. Amounts are unique and strictly
// increasing per item, so the amount alone orders the ledger.
type BidCursor struct {
	Amount decimal.Decimal `json:"amount"`
}

func EncodeCursor(cursor BidCursor) string {
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor returns ok=false for the empty cursor, meaning "start from the newest bid".
func DecodeCursor(encoded string) (cursor BidCursor, ok bool, err error) {
	if encoded == "" {
		return cursor, false, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return cursor, false, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	if err := json.Unmarshal(data, &cursor); err != nil {
		return cursor, false, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return cursor, true, nil
}

func totalPages(total int64, pageSize int) int {
	pages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		pages++
	}
	return pages
}
