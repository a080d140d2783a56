package broadcast

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-auction-engine/internal/events"
)

// Subscriber forwards every item channel on Redis to the manager.
type Subscriber struct {
	client  *redis.Client
	manager *Manager
}

func NewSubscriber(client *redis.Client, manager *Manager) *Subscriber {
	return &Subscriber{client: client, manager: manager}
}

// Listen blocks until ctx is cancelled. The subscription is confirmed before
// Listen starts forwarding, so ready is closed only once events can be received.
func (s *Subscriber) Listen(ctx context.Context, ready chan<- struct{}) error {
	pubsub := s.client.PSubscribe(ctx, events.ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			itemID := strings.TrimPrefix(msg.Channel, events.ChannelPrefix)
			if itemID == "" || itemID == msg.Channel {
				continue
			}
			s.manager.Broadcast(itemID, []byte(msg.Payload))
		}
	}
}
