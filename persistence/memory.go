package persistence

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/room"
)

// MemoryStore is an in-process RoomStore with the same optimistic
// concurrency contract as RedisStore. Rooms are kept encoded so every read
// goes through the codec.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]memEntry
	seq   uint64
	ttl   time.Duration
	now   func() time.Time
}

type memEntry struct {
	data    []byte
	version uint64
	expires time.Time
}

// NewMemoryStore creates a MemoryStore whose rooms live for ttl after their
// last access.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]memEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// load returns a live entry. Caller holds mu.
func (m *MemoryStore) load(id string) (memEntry, bool) {
	e, ok := m.rooms[id]
	if !ok {
		return memEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.rooms, id)
		return memEntry{}, false
	}
	return e, true
}

// put writes data under a new version. Caller holds mu.
func (m *MemoryStore) put(id string, data []byte) {
	m.seq++
	m.rooms[id] = memEntry{data: data, version: m.seq, expires: m.now().Add(m.ttl)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	m.mu.Lock()
	e, ok := m.load(id)
	if ok {
		e.expires = m.now().Add(m.ttl)
		m.rooms[id] = e
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Decode(e.data)
}

func (m *MemoryStore) Create(ctx context.Context, r *room.Room) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	data, err := room.Encode(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.load(r.ID); ok {
		return ErrRoomExists
	}
	m.put(r.ID, data)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(*room.Room) error) (*room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	m.mu.Lock()
	read, ok := m.load(id)
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	r, err := room.Decode(read.data)
	if err != nil {
		return nil, err
	}
	if err := mutate(r); err != nil {
		return nil, err
	}
	data, err := room.Encode(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.load(id)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if cur.version != read.version {
		return nil, ErrConflict
	}
	m.put(id, data)
	return r, nil
}

func (m *MemoryStore) ScanWaiting(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.Lock()
		ids := make([]string, 0, len(m.rooms))
		for id := range m.rooms {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield("", unavailable(err))
				return
			}
			m.mu.Lock()
			e, ok := m.load(id)
			m.mu.Unlock()
			if !ok {
				continue
			}
			r, err := room.Decode(e.data)
			if err != nil {
				logger.Log.Warnf("Skipping undecodable room %s: %v", id, err)
				continue
			}
			if len(r.Players) < room.MaxPlayers {
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id := range m.rooms {
		if _, ok := m.load(id); ok {
			n++
		}
	}
	return n, nil
}
