package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/safar/go-auction-engine/internal/models"
	"github.com/safar/go-auction-engine/internal/store"
	"github.com/safar/go-auction-engine/internal/testdb"
)

type captured struct {
	mu       sync.Mutex
	emitted  []models.Event
	notified []int64
	fail     bool
}

func (c *captured) Emit(_ context.Context, evt models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.emitted = append(c.emitted, evt)
	return nil
}

func (c *captured) Notify(_ context.Context, userID int64, _, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, userID)
	return nil
}

func insertEvent(t *testing.T, db *sql.DB) models.Event {
	t.Helper()
	evt := bidAccepted(t)
	evt.CreatedAt = time.Now().Add(-time.Minute)
	assert.NoError(t, store.InsertEvent(context.Background(), db, &evt))
	return evt
}

func TestDispatchMarksPublished(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	sink := &captured{}
	d := NewDispatcher(db, DispatcherOptions{}, sink, Sink{Name: "redis", Emitter: sink})

	evt := insertEvent(t, db)
	d.Dispatch(ctx, evt)

	check.Equal(t, 1, len(sink.emitted))
	check.Equal(t, []int64{1, 7}, sink.notified)

	got, err := store.GetEvent(ctx, db, evt.ID)
	assert.NoError(t, err)
	check.NotNil(t, got.PublishedAt)
	check.Equal(t, []string{"redis", NotifySink}, got.DeliveredSinks)

	n, err := d.Relay(ctx, 0, 10)
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	d.Dispatch(ctx, evt)
	check.Equal(t, 1, len(sink.emitted))
}

func TestRelayRedeliversFailedDispatch(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	sink := &captured{fail: true}
	d := NewDispatcher(db, DispatcherOptions{}, sink, Sink{Name: "redis", Emitter: sink})

	evt := insertEvent(t, db)
	d.Dispatch(ctx, evt)

	got, err := store.GetEvent(ctx, db, evt.ID)
	assert.NoError(t, err)
	check.Nil(t, got.PublishedAt)
	check.Equal(t, []int64{1, 7}, sink.notified)

	n, err := d.Relay(ctx, 0, 10)
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	n, err = d.Relay(ctx, 0, 10)
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	assert.Equal(t, 1, len(sink.emitted))
	check.Equal(t, evt.ID, sink.emitted[0].ID)
	check.Equal(t, []int64{1, 7}, sink.notified)

	var payload models.BidAcceptedPayload
	assert.NoError(t, json.Unmarshal(sink.emitted[0].Payload, &payload))
	check.Equal(t, "bob", payload.BidderName)

	got, err = store.GetEvent(ctx, db, evt.ID)
	assert.NoError(t, err)
	check.NotNil(t, got.PublishedAt)
	check.Equal(t, 3, got.Attempts)
}

type counter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *counter) Emit(context.Context, models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return errors.New("nats: no responders available for request")
	}
	return nil
}

func (c *counter) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func TestRelayOnlyRetriesFailedSinks(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	realtime := &counter{}
	stream := &counter{fail: true}
	notes := &captured{}
	d := NewDispatcher(db, DispatcherOptions{}, notes,
		Sink{Name: "redis", Emitter: realtime},
		Sink{Name: "jetstream", Emitter: stream},
	)

	evt := insertEvent(t, db)
	d.Dispatch(ctx, evt)
	for i := 0; i < 2; i++ {
		n, err := d.Relay(ctx, 0, 10)
		assert.NoError(t, err)
		check.Equal(t, 0, n)
	}

	check.Equal(t, 1, realtime.calls)
	check.Equal(t, 3, stream.calls)
	check.Equal(t, []int64{1, 7}, notes.notified)

	stream.setFail(false)
	n, err := d.Relay(ctx, 0, 10)
	assert.NoError(t, err)
	check.Equal(t, 1, n)

	check.Equal(t, 1, realtime.calls)
	check.Equal(t, 4, stream.calls)
	check.Equal(t, []int64{1, 7}, notes.notified)

	got, err := store.GetEvent(ctx, db, evt.ID)
	assert.NoError(t, err)
	check.NotNil(t, got.PublishedAt)
}

func TestRelayGivesUpAfterMaxAttempts(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	stream := &counter{fail: true}
	d := NewDispatcher(db, DispatcherOptions{MaxAttempts: 2}, nil, Sink{Name: "jetstream", Emitter: stream})

	evt := insertEvent(t, db)
	d.Dispatch(ctx, evt)
	for i := 0; i < 3; i++ {
		_, err := d.Relay(ctx, 0, 10)
		assert.NoError(t, err)
	}

	check.Equal(t, 2, stream.calls)

	got, err := store.GetEvent(ctx, db, evt.ID)
	assert.NoError(t, err)
	check.Nil(t, got.PublishedAt)
	check.Equal(t, 2, got.Attempts)
}

func TestRelaySkipsClaimedEvent(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	sink := &captured{}
	d := NewDispatcher(db, DispatcherOptions{}, nil, Sink{Name: "redis", Emitter: sink})

	evt := insertEvent(t, db)
	now := time.Now()
	_, ok, err := store.ClaimEvent(ctx, db, evt.ID, now, now.Add(time.Minute))
	assert.NoError(t, err)
	assert.True(t, ok)

	n, err := d.Relay(ctx, 0, 10)
	assert.NoError(t, err)
	check.Equal(t, 0, n)
	check.Equal(t, 0, len(sink.emitted))

	d.Dispatch(ctx, evt)
	check.Equal(t, 0, len(sink.emitted))
}

func TestRelayRespectsGrace(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	sink := &captured{}
	d := NewDispatcher(db, DispatcherOptions{}, sink, Sink{Name: "redis", Emitter: sink})

	insertEvent(t, db)

	n, err := d.Relay(ctx, time.Hour, 10)
	assert.NoError(t, err)
	check.Equal(t, 0, n)
	check.Equal(t, 0, len(sink.emitted))
}

func TestRedisEmitterPublishesOnItemChannel(t *testing.T) {
	client := testdb.Redis(t)
	ctx := context.Background()
	evt := bidAccepted(t)

	sub := client.Subscribe(ctx, ItemChannel(evt.ItemID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	assert.NoError(t, err)

	assert.NoError(t, NewRedisEmitter(client).Emit(ctx, evt))

	select {
	case msg := <-sub.Channel():
		var got models.Event
		assert.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		check.Equal(t, evt.ID, got.ID)
		check.Equal(t, evt.Recipients, got.Recipients)
	case <-time.After(2 * time.Second):
		t.Fatal("no message on item channel")
	}
}
