package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/kitokato77/cnc4-gs2/logger"
)

// RedisBroadcaster publishes room events on Redis pub/sub so every server
// process sharing the store sees them.
type RedisBroadcaster struct {
	client redis.UniversalClient
}

func NewRedisBroadcaster(client redis.UniversalClient) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, Channel(ev.RoomID), data).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so any event
// published afterwards is delivered.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(roomID), err)
	}

	sub := &redisSubscription{
		ps:   ps,
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Log.Warnf("Discarding malformed event on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		default:
			logger.Log.Warnf("Dropping %s event on %s: queue full", ev.Type, msg.Channel)
		}
	}
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
