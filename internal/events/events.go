// Package events delivers lifecycle and bid events to collaborators outside the
// engine: real-time subscribers, the archival stream and the notification
// service. Delivery is best effort; a failure here never undoes the state
// change that produced the event.
package events

import (
	"context"
	"fmt"

	"github.com/safar/go-auction-engine/internal/models"
)

// Emitter publishes one event. Implementations must not retry internally; the
// outbox relay owns redelivery, per sink.
type Emitter interface {
	Emit(ctx context.Context, evt models.Event) error
}

// Notifier is the notification collaborator's entry point.
type Notifier interface {
	Notify(ctx context.Context, userID int64, notificationType, message, link string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID int64, notificationType, message, link string) error

func (f NotifierFunc) Notify(ctx context.Context, userID int64, notificationType, message, link string) error {
	return f(ctx, userID, notificationType, message, link)
}

// ItemChannel is the Redis Pub/Sub channel carrying an item's events.
func ItemChannel(itemID fmt.Stringer) string {
	return ChannelPrefix + itemID.String()
}

const ChannelPrefix = "auction_events:"
