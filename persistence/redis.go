package persistence

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/room"
)

// scanCount is the COUNT hint for SCAN batches.
const scanCount = 100

// RedisStore keeps each room as a JSON string under room:<id> with a fixed
// expiry. Updates are optimistic transactions: WATCH the key, GET, apply the
// change, then MULTI/SET/EXEC. EXEC aborts if anyone touched the key after
// WATCH.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*room.Room, error) {
	data, err := s.client.GetEx(ctx, Key(id), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return room.Decode(data)
}

func (s *RedisStore) Create(ctx context.Context, r *room.Room) error {
	data, err := room.Encode(r)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, Key(r.ID), data, s.ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrRoomExists
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*room.Room) error) (*room.Room, error) {
	key := Key(id)
	var (
		updated  *room.Room
		rejected error
	)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		r, err := room.Decode(data)
		if err != nil {
			return err
		}
		if err := mutate(r); err != nil {
			rejected = err
			return err
		}
		out, err := room.Encode(r)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = r
		return nil
	}, key)

	switch {
	case err == nil:
		return updated, nil
	case rejected != nil:
		return nil, rejected
	case errors.Is(err, redis.Nil):
		return nil, ErrRoomNotFound
	case errors.Is(err, redis.TxFailedErr):
		return nil, ErrConflict
	default:
		return nil, unavailable(err)
	}
}

func (s *RedisStore) ScanWaiting(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := s.client.Scan(ctx, 0, KeyPrefix+"*", scanCount).Iterator()
		for it.Next(ctx) {
			key := it.Val()
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			if err != nil {
				yield("", unavailable(err))
				return
			}
			r, err := room.Decode(data)
			if err != nil {
				logger.Log.Warnf("Skipping undecodable room %s: %v", key, err)
				continue
			}
			if len(r.Players) < room.MaxPlayers {
				if !yield(strings.TrimPrefix(key, KeyPrefix), nil) {
					return
				}
			}
		}
		if err := it.Err(); err != nil {
			yield("", unavailable(err))
		}
	}
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	it := s.client.Scan(ctx, 0, KeyPrefix+"*", scanCount).Iterator()
	for it.Next(ctx) {
		n++
	}
	if err := it.Err(); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}
