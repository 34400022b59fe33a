package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitokato77/cnc4-gs2/broadcast"
	"github.com/kitokato77/cnc4-gs2/persistence"
	"github.com/kitokato77/cnc4-gs2/room"
	"github.com/kitokato77/cnc4-gs2/services"
	"github.com/kitokato77/cnc4-gs2/session"
)

type recordingObserver struct {
	routes chan string
}

func (o *recordingObserver) ObserveRequest(route string, status int, d time.Duration) {
	select {
	case o.routes <- fmt.Sprintf("%s %d", route, status):
	default:
	}
}
func (o *recordingObserver) IncSubscribers() {}
func (o *recordingObserver) DecSubscribers() {}

type testEnv struct {
	srv   *GameServer
	ts    *httptest.Server
	store persistence.RoomStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := persistence.NewMemoryStore(time.Hour)
	svc := services.NewRoomService(store, services.Options{Broadcaster: broadcast.NewMemoryHub()})
	return newTestEnvWith(t, store, svc, opts)
}

func newTestEnvWith(t *testing.T, store persistence.RoomStore, svc *services.RoomService, opts Options) *testEnv {
	t.Helper()
	srv := NewGameServer(svc, session.NewManager(), opts)
	ts := httptest.NewUnstartedServer(nil)
	ts.Config = srv.newHTTPServer("")
	ts.Start()
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return &testEnv{srv: srv, ts: ts, store: store}
}

func (e *testEnv) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// createGame seats alice and bob and returns the room id.
func (e *testEnv) createGame(t *testing.T) string {
	t.Helper()
	status, body := e.post(t, "/create_room", `{"player":"alice"}`)
	require.Equal(t, http.StatusOK, status)
	id := body["room_id"].(string)
	status, _ = e.post(t, "/join_room", fmt.Sprintf(`{"player":"bob","room_id":%q}`, id))
	require.Equal(t, http.StatusOK, status)
	return id
}

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t, Options{})

	status, body := env.post(t, "/create_room", `{"player":"alice"}`)
	require.Equal(t, http.StatusOK, status)
	id, ok := body["room_id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 8)

	status, body = env.get(t, "/lobby_status?room_id="+id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"alice"}, body["players"])
	assert.Equal(t, map[string]any{"alice": false}, body["ready"])

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty player", `{"player":""}`},
		{"null player", `{"player":null}`},
		{"numeric player", `{"player":7}`},
		{"not json", `player=alice`},
		{"json array", `["alice"]`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.post(t, "/create_room", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, map[string]any{"error": "Missing player in request"}, body)
		})
	}
}

func TestJoinRoom(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, body := env.post(t, "/create_room", `{"player":"alice"}`)
	id := body["room_id"].(string)

	status, body := env.post(t, "/join_room", fmt.Sprintf(`{"player":"alice","room_id":%q}`, id))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Player already in room", body["error"])

	status, body = env.post(t, "/join_room", fmt.Sprintf(`{"player":"bob","room_id":%q}`, id))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"room_id": id, "success": true}, body)

	status, body = env.post(t, "/join_room", fmt.Sprintf(`{"player":"carol","room_id":%q}`, id))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Room already full", body["error"])

	status, body = env.post(t, "/join_room", `{"player":"carol","room_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Room not found", body["error"])

	status, body = env.post(t, "/join_room", `{"player":"carol"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing room_id in request", body["error"])
}

func TestQuickJoin(t *testing.T) {
	env := newTestEnv(t, Options{})

	status, first := env.post(t, "/quick_join", `{"player":"alice"}`)
	require.Equal(t, http.StatusOK, status)
	status, second := env.post(t, "/quick_join", `{"player":"bob"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["room_id"], second["room_id"])

	status, third := env.post(t, "/quick_join", `{"player":"carol"}`)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, first["room_id"], third["room_id"])

	status, body := env.post(t, "/quick_join", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing player in request", body["error"])
}

func TestSetReady(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.createGame(t)

	status, body := env.post(t, "/set_ready", fmt.Sprintf(`{"player":"alice","room_id":%q}`, id))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"all_ready": false}, body)

	status, body = env.post(t, "/set_ready", fmt.Sprintf(`{"player":"bob","room_id":%q}`, id))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"all_ready": true}, body)

	status, body = env.post(t, "/set_ready", fmt.Sprintf(`{"player":"carol","room_id":%q}`, id))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid room or player", body["error"])

	status, body = env.post(t, "/set_ready", `{"player":"alice","room_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid room or player", body["error"])
}

func TestMakeMove_Game(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.createGame(t)

	move := func(player string, col int) (int, map[string]any) {
		return env.post(t, "/make_move", fmt.Sprintf(`{"player":%q,"room_id":%q,"col":%d}`, player, id, col))
	}

	status, body := move("alice", 3)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true, "winner": nil}, body)

	status, body = env.get(t, "/game_state?room_id="+id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["turn"])
	assert.Nil(t, body["winner"])
	board := body["board"].([]any)
	require.Len(t, board, room.Rows)
	assert.Equal(t, float64(1), board[5].([]any)[3])

	status, body = move("alice", 3)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Not your turn", body["error"])

	// bob answers in column 4; alice completes column 3
	for i := 0; i < 2; i++ {
		status, _ = move("bob", 4)
		require.Equal(t, http.StatusOK, status)
		status, _ = move("alice", 3)
		require.Equal(t, http.StatusOK, status)
	}
	status, _ = move("bob", 4)
	require.Equal(t, http.StatusOK, status)
	status, body = move("alice", 3)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true, "winner": "alice"}, body)

	status, body = move("bob", 4)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Game over", body["error"])

	status, body = env.get(t, "/game_state?room_id="+id)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", body["winner"])
	assert.Equal(t, float64(0), body["turn"])
}

func TestMakeMove_Rejections(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.createGame(t)

	tests := []struct {
		name   string
		body   string
		status int
		err    string
	}{
		{"missing room", `{"player":"alice","room_id":"nope","col":0}`, http.StatusNotFound, "Room not found"},
		{"stranger", fmt.Sprintf(`{"player":"carol","room_id":%q,"col":0}`, id), http.StatusBadRequest, "Player not in room"},
		{"column too big", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":7}`, id), http.StatusBadRequest, "Invalid column"},
		{"negative column", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":-1}`, id), http.StatusBadRequest, "Invalid column"},
		{"missing column", fmt.Sprintf(`{"player":"alice","room_id":%q}`, id), http.StatusBadRequest, "Missing or invalid col in request"},
		{"string column", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":"3"}`, id), http.StatusBadRequest, "Missing or invalid col in request"},
		{"fractional column", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":2.5}`, id), http.StatusBadRequest, "Missing or invalid col in request"},
		{"missing player", fmt.Sprintf(`{"room_id":%q,"col":0}`, id), http.StatusBadRequest, "Missing player in request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.post(t, "/make_move", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, map[string]any{"error": tt.err}, body)
		})
	}

	status, body := env.get(t, "/game_state?room_id="+id)
	require.Equal(t, http.StatusOK, status)
	for _, row := range body["board"].([]any) {
		for _, cell := range row.([]any) {
			assert.Equal(t, float64(0), cell)
		}
	}
}

func TestMakeMove_ColumnFull(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.createGame(t)

	// alternate 0,1 so nobody lines up four in a column
	players := []string{"alice", "bob"}
	for i := 0; i < room.Rows; i++ {
		status, body := env.post(t, "/make_move", fmt.Sprintf(`{"player":%q,"room_id":%q,"col":0}`, players[i%2], id))
		require.Equal(t, http.StatusOK, status, body)
	}
	status, body := env.post(t, "/make_move", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":0}`, id))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Column full", body["error"])
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, path := range []string{"/game_state", "/lobby_status"} {
		status, body := env.get(t, path+"?room_id=nope")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, map[string]any{"error": "Room not found"}, body)

		status, body = env.get(t, path)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, map[string]any{"error": "Missing room_id in request"}, body)
	}
}

func TestGameStateIsRepeatable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	const ttl = time.Hour
	store := persistence.NewRedisStore(client, ttl)
	svc := services.NewRoomService(store, services.Options{Broadcaster: broadcast.NewMemoryHub()})
	env := newTestEnvWith(t, store, svc, Options{})

	id := env.createGame(t)
	status, _ := env.post(t, "/make_move", fmt.Sprintf(`{"player":"alice","room_id":%q,"col":2}`, id))
	require.Equal(t, http.StatusOK, status)

	raw := func() []byte {
		resp, err := http.Get(env.ts.URL + "/game_state?room_id=" + id)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return data
	}

	mr.FastForward(30 * time.Minute)
	require.Equal(t, 30*time.Minute, mr.TTL(persistence.Key(id)))

	first := raw()
	assert.Equal(t, ttl, mr.TTL(persistence.Key(id)), "a read refreshes the ttl")
	second := raw()
	assert.Equal(t, string(first), string(second))

	var view map[string]any
	require.NoError(t, json.Unmarshal(first, &view))
	assert.Equal(t, float64(1), view["turn"])
}

func TestPanicIsJSON(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.srv.r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	status, body := env.get(t, "/boom")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, map[string]any{"error": "Redis not available"}, body)

	status, _ = env.post(t, "/create_room", `{"player":"alice"}`)
	assert.Equal(t, http.StatusOK, status, "the server keeps serving after a panic")
}

func TestNotFoundAndCORS(t *testing.T) {
	env := newTestEnv(t, Options{})

	status, body := env.get(t, "/nowhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, map[string]any{"error": "Not found"}, body)

	status, body = env.get(t, "/create_room")
	assert.Equal(t, http.StatusNotFound, status, "wrong method counts as unknown path")
	assert.Equal(t, map[string]any{"error": "Not found"}, body)

	status, body = env.post(t, "/game_state", `{}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", body["error"])

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/make_move", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))

	resp, err = http.Post(env.ts.URL+"/create_room", "application/json", strings.NewReader(`{"player":"alice"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.True(t, resp.Close, "connections are closed after each response")
}

// brokenStore fails like an unreachable Redis.
type brokenStore struct {
	*persistence.MemoryStore
}

var errDown = fmt.Errorf("%w: connection refused", persistence.ErrUnavailable)

func (brokenStore) Get(ctx context.Context, id string) (*room.Room, error) { return nil, errDown }
func (brokenStore) Create(ctx context.Context, r *room.Room) error        { return errDown }
func (brokenStore) Update(ctx context.Context, id string, mutate func(*room.Room) error) (*room.Room, error) {
	return nil, errDown
}

func TestStoreUnavailable(t *testing.T) {
	mem := persistence.NewMemoryStore(time.Hour)
	svc := services.NewRoomService(brokenStore{mem}, services.Options{})
	env := newTestEnvWith(t, mem, svc, Options{})

	want := map[string]any{"error": "Redis not available"}
	for _, tc := range []struct{ path, body string }{
		{"/create_room", `{"player":"alice"}`},
		{"/join_room", `{"player":"alice","room_id":"abc"}`},
		{"/quick_join", `{"player":"alice"}`},
		{"/set_ready", `{"player":"alice","room_id":"abc"}`},
		{"/make_move", `{"player":"alice","room_id":"abc","col":0}`},
	} {
		status, body := env.post(t, tc.path, tc.body)
		assert.Equal(t, http.StatusInternalServerError, status, tc.path)
		assert.Equal(t, want, body, tc.path)
	}
	status, body := env.get(t, "/game_state?room_id=abc")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, want, body)

	status, body = env.post(t, "/create_room", `{}`)
	assert.Equal(t, http.StatusBadRequest, status, "validation happens before the store is touched")
	assert.Equal(t, "Missing player in request", body["error"])
}

func TestObserverSeesRoutes(t *testing.T) {
	obs := &recordingObserver{routes: make(chan string, 8)}
	env := newTestEnv(t, Options{Observer: obs})

	env.post(t, "/create_room", `{"player":"alice"}`)
	env.get(t, "/nowhere")

	var got []string
	for len(got) < 2 {
		select {
		case r := <-obs.routes:
			got = append(got, r)
		case <-time.After(time.Second):
			t.Fatalf("observed only %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"/create_room 200", "unmatched 404"}, got)
}

func TestLimitWorkers(t *testing.T) {
	env := newTestEnv(t, Options{MaxWorkers: 1, RequestTimeout: time.Second})

	// hold the only worker
	require.NoError(t, env.srv.workers.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/create_room", strings.NewReader(`{"player":"alice"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"Server busy"}`, rec.Body.String())

	env.srv.workers.Release(1)
	status, _ := env.post(t, "/create_room", `{"player":"alice"}`)
	assert.Equal(t, http.StatusOK, status)
}
