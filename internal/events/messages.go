package events

import (
	"encoding/json"
	"fmt"

	"github.com/safar/go-auction-engine/internal/models"
	"github.com/shopspring/decimal"
)

// eventSummary is the union of the payload fields notifications read.
type eventSummary struct {
	ItemName         string          `json:"item_name"`
	SellerID         int64           `json:"seller_id"`
	BidderName       string          `json:"bidder_name"`
	NewPrice         decimal.Decimal `json:"new_price"`
	PreviousBidderID *int64          `json:"previous_bidder_id"`
	WinnerID         int64           `json:"winner_id"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	BuyerID          int64           `json:"buyer_id"`
	Price            decimal.Decimal `json:"price"`
}

// Message renders the notification a recipient gets for evt.
func Message(evt models.Event, userID int64) (notificationType, message, link string, err error) {
	var s eventSummary
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &s); err != nil {
			return "", "", "", fmt.Errorf("decode %s payload: %w", evt.Type, err)
		}
	}

	link = "/items/" + evt.ItemID.String()
	isSeller := userID == s.SellerID

	switch evt.Type {
	case models.EventBidAccepted:
		if isSeller {
			return "BID", fmt.Sprintf("%s bid %s on %q", s.BidderName, s.NewPrice, s.ItemName), link, nil
		}
		return "OUTBID", fmt.Sprintf("You have been outbid on %q, the price is now %s", s.ItemName, s.NewPrice), link, nil
	case models.EventAuctionWon:
		if isSeller {
			return "AUCTION_CLOSED", fmt.Sprintf("%q sold for %s, awaiting payment", s.ItemName, s.FinalPrice), link, nil
		}
		return "AUCTION_WON", fmt.Sprintf("You won %q for %s, please complete payment", s.ItemName, s.FinalPrice), link, nil
	case models.EventAuctionFailed:
		return "AUCTION_FAILED", fmt.Sprintf("%q closed without bids", s.ItemName), link, nil
	case models.EventPaymentExpired:
		if isSeller {
			return "PAYMENT_EXPIRED", fmt.Sprintf("The winner of %q did not pay in time", s.ItemName), link, nil
		}
		return "PAYMENT_EXPIRED", fmt.Sprintf("Your payment window for %q has closed", s.ItemName), link, nil
	case models.EventPaymentConfirmed:
		if isSeller {
			return "PAYMENT_CONFIRMED", fmt.Sprintf("Payment of %s received for %q", s.Price, s.ItemName), link, nil
		}
		return "PAYMENT_CONFIRMED", fmt.Sprintf("Your payment for %q is confirmed", s.ItemName), link, nil
	case models.EventItemDeleted:
		return "ITEM_DELETED", fmt.Sprintf("%q was withdrawn by the seller", s.ItemName), link, nil
	}

	return "", "", "", fmt.Errorf("unknown event type %q", evt.Type)
}
