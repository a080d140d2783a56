package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type ItemStatus string

const (
	ItemStatusOnSale       ItemStatus = "ON_SALE"
	ItemStatusAuctionEnded ItemStatus = "AUCTION_ENDED"
	ItemStatusSoldOut      ItemStatus = "SOLD_OUT"
	ItemStatusExpired      ItemStatus = "EXPIRED"
	ItemStatusFailed       ItemStatus = "FAILED"
	ItemStatusDeleted      ItemStatus = "DELETED"
)

// Terminal reports whether no further transition may leave s.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusSoldOut, ItemStatusExpired, ItemStatusFailed, ItemStatusDeleted:
		return true
	}
	return false
}

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusOnSale, ItemStatusAuctionEnded, ItemStatusSoldOut,
		ItemStatusExpired, ItemStatusFailed, ItemStatusDeleted:
		return true
	}
	return false
}

// AuctionItem is the unit of sale. CurrentPrice and HighestBidderID always
// mirror the latest row in the bid ledger for the item.
type AuctionItem struct {
	ID              uuid.UUID       `json:"id"`
	SellerID        int64           `json:"seller_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category,omitempty"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	HighestBidderID *int64          `json:"highest_bidder_id,omitempty"`
	AuctionEndTime  time.Time       `json:"auction_end_time"`
	PaymentDueTime  *time.Time      `json:"payment_due_time,omitempty"`
	Status          ItemStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
	Version         int             `json:"version"`
}

func (i *AuctionItem) HasBidder() bool {
	return i.HighestBidderID != nil
}

type Bid struct {
	ID        uuid.UUID       `json:"id"`
	ItemID    uuid.UUID       `json:"item_id"`
	BidderID  int64           `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type PaymentIntentStatus string

const (
	PaymentIntentPending   PaymentIntentStatus = "PENDING"
	PaymentIntentConfirmed PaymentIntentStatus = "CONFIRMED"
)

// PaymentIntent is the payment collaborator's record of a checkout in flight.
type PaymentIntent struct {
	ID        uuid.UUID           `json:"id"`
	ItemID    uuid.UUID           `json:"item_id"`
	BuyerID   int64               `json:"buyer_id"`
	Amount    decimal.Decimal     `json:"amount"`
	Status    PaymentIntentStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type EventType string

const (
	EventBidAccepted      EventType = "BidAccepted"
	EventAuctionWon       EventType = "AuctionWon"
	EventAuctionFailed    EventType = "AuctionFailed"
	EventPaymentExpired   EventType = "PaymentExpired"
	EventPaymentConfirmed EventType = "PaymentConfirmed"
	EventItemDeleted      EventType = "ItemDeleted"
)

// Event is an outbox row: written in the same transaction as the state change
// it describes and published after commit.
type Event struct {
	ID          uuid.UUID       `json:"event_id"`
	Type        EventType       `json:"type"`
	ItemID      uuid.UUID       `json:"item_id"`
	Recipients  []int64         `json:"recipients"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`

	// Outbox bookkeeping, not part of the published event.
	DeliveredSinks []string `json:"-"`
	Attempts       int      `json:"-"`
}

type BidAcceptedPayload struct {
	ItemID           uuid.UUID       `json:"item_id"`
	ItemName         string          `json:"item_name"`
	SellerID         int64           `json:"seller_id"`
	BidID            uuid.UUID       `json:"bid_id"`
	BidderID         int64           `json:"bidder_id"`
	BidderName       string          `json:"bidder_name"`
	NewPrice         decimal.Decimal `json:"new_price"`
	PreviousPrice    decimal.Decimal `json:"previous_price"`
	PreviousBidderID *int64          `json:"previous_bidder_id,omitempty"`
	AuctionEndTime   time.Time       `json:"auction_end_time"`
}

type AuctionWonPayload struct {
	ItemID         uuid.UUID       `json:"item_id"`
	ItemName       string          `json:"item_name"`
	SellerID       int64           `json:"seller_id"`
	WinnerID       int64           `json:"winner_id"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	PaymentDueTime time.Time       `json:"payment_due_time"`
}

type AuctionFailedPayload struct {
	ItemID   uuid.UUID `json:"item_id"`
	ItemName string    `json:"item_name"`
	SellerID int64     `json:"seller_id"`
}

type PaymentExpiredPayload struct {
	ItemID   uuid.UUID       `json:"item_id"`
	ItemName string          `json:"item_name"`
	SellerID int64           `json:"seller_id"`
	BuyerID  int64           `json:"buyer_id"`
	Price    decimal.Decimal `json:"price"`
}

type PaymentConfirmedPayload struct {
	ItemID   uuid.UUID       `json:"item_id"`
	ItemName string          `json:"item_name"`
	SellerID int64           `json:"seller_id"`
	BuyerID  int64           `json:"buyer_id"`
	Price    decimal.Decimal `json:"price"`
}

type ItemDeletedPayload struct {
	ItemID   uuid.UUID `json:"item_id"`
	ItemName string    `json:"item_name"`
	SellerID int64     `json:"seller_id"`
}
