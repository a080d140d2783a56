package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/shopspring/decimal"
)

func bidAccepted(t *testing.T) models.Event {
	t.Helper()
	previous := int64(7)
	payload, err := json.Marshal(models.BidAcceptedPayload{
		ItemID:           uuid.New(),
		ItemName:         "Vintage Watch",
		SellerID:         1,
		BidderID:         9,
		BidderName:       "bob",
		NewPrice:         decimal.RequireFromString("200.00"),
		PreviousPrice:    decimal.RequireFromString("150.00"),
		PreviousBidderID: &previous,
		AuctionEndTime:   time.Now().Add(time.Hour),
	})
	assert.NoError(t, err)
	return models.Event{
		ID:         uuid.New(),
		Type:       models.EventBidAccepted,
		ItemID:     uuid.New(),
		Recipients: []int64{1, 7},
		Payload:    payload,
	}
}

func TestNotifySinkReachesEveryRecipient(t *testing.T) {
	evt := bidAccepted(t)
	boom := errors.New("boom")

	var notified []int64
	sink := notifySink{NotifierFunc(func(_ context.Context, userID int64, _, _, _ string) error {
		notified = append(notified, userID)
		if userID == 1 {
			return boom
		}
		return nil
	})}

	err := sink.Emit(context.Background(), evt)
	check.True(t, errors.Is(err, boom))
	check.Equal(t, []int64{1, 7}, notified)
}

func TestItemChannel(t *testing.T) {
	id := uuid.MustParse("6f1c2f4e-3a52-4d0b-9d59-1f1d7d0a8c11")
	check.Equal(t, "auction_events:6f1c2f4e-3a52-4d0b-9d59-1f1d7d0a8c11", ItemChannel(id))
}

func TestMessageVariesByRecipient(t *testing.T) {
	evt := bidAccepted(t)

	typ, msg, link, err := Message(evt, 1)
	assert.NoError(t, err)
	check.Equal(t, "BID", typ)
	check.True(t, strings.Contains(msg, "bob bid 200"))
	check.Equal(t, "/items/"+evt.ItemID.String(), link)

	typ, msg, _, err = Message(evt, 7)
	assert.NoError(t, err)
	check.Equal(t, "OUTBID", typ)
	check.True(t, strings.Contains(msg, "outbid"))
}

func TestMessageForEveryEventType(t *testing.T) {
	types := []models.EventType{
		models.EventBidAccepted, models.EventAuctionWon, models.EventAuctionFailed,
		models.EventPaymentExpired, models.EventPaymentConfirmed, models.EventItemDeleted,
	}
	for _, typ := range types {
		t.Run(string(typ), func(t *testing.T) {
			evt := models.Event{Type: typ, ItemID: uuid.New(), Payload: json.RawMessage(`{"item_name":"Lamp","seller_id":1}`)}
			notificationType, msg, _, err := Message(evt, 2)
			assert.NoError(t, err)
			check.NotEqual(t, "", notificationType)
			check.True(t, strings.Contains(msg, "Lamp"))
		})
	}

	_, _, _, err := Message(models.Event{Type: "Unknown"}, 1)
	check.Error(t, err)

	_, _, _, err = Message(models.Event{Type: models.EventAuctionWon, Payload: json.RawMessage(`not json`)}, 1)
	check.Error(t, err)
}
