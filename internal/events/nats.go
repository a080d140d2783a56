package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/safar/go-auction-engine/internal/models"
)

const (
	SubjectPrefix      = "auction.events."
	NotificationPrefix = "notifications."
)

// EnsureStream creates or updates the stream that retains auction events for
// archival and downstream consumers.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Auction lifecycle and bid events",
		Subjects:    []string{SubjectPrefix + ">"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create or update stream %s: %w", name, err)
	}
	return nil
}

// JetStreamEmitter appends events to a JetStream stream. The event id is the
// message id, so a relay redelivery inside the duplicate window is dropped by
// the server.
type JetStreamEmitter struct {
	js jetstream.JetStream
}

func NewJetStreamEmitter(js jetstream.JetStream) *JetStreamEmitter {
	return &JetStreamEmitter{js: js}
}

func (e *JetStreamEmitter) Emit(ctx context.Context, evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := SubjectPrefix + string(evt.Type)
	if _, err := e.js.Publish(ctx, subject, data, jetstream.WithMsgID(evt.ID.String())); err != nil {
		return fmt.Errorf("publish to jetstream %s: %w", subject, err)
	}
	return nil
}

type notification struct {
	UserID  int64     `json:"user_id"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Link    string    `json:"link"`
	SentAt  time.Time `json:"sent_at"`
}

// NATSNotifier hands notifications to the notification service over core NATS.
type NATSNotifier struct {
	conn *nats.Conn
}

func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

func (n *NATSNotifier) Notify(ctx context.Context, userID int64, notificationType, message, link string) error {
	data, err := json.Marshal(notification{
		UserID:  userID,
		Type:    notificationType,
		Message: message,
		Link:    link,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s%d", NotificationPrefix, userID)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish notification to %s: %w", subject, err)
	}
	return nil
}
