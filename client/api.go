package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kitokato77/cnc4-gs2/room"
)

// apiClient talks to the room server over HTTP.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *apiClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) QuickJoin(ctx context.Context, player string) (string, error) {
	var out struct {
		RoomID string `json:"room_id"`
	}
	err := c.post(ctx, "/quick_join", map[string]any{"player": player}, &out)
	return out.RoomID, err
}

func (c *apiClient) JoinRoom(ctx context.Context, player, roomID string) error {
	var out struct {
		Success bool `json:"success"`
	}
	return c.post(ctx, "/join_room", map[string]any{"player": player, "room_id": roomID}, &out)
}

func (c *apiClient) SetReady(ctx context.Context, player, roomID string) (bool, error) {
	var out struct {
		AllReady bool `json:"all_ready"`
	}
	err := c.post(ctx, "/set_ready", map[string]any{"player": player, "room_id": roomID}, &out)
	return out.AllReady, err
}

func (c *apiClient) MakeMove(ctx context.Context, player, roomID string, col int) (*string, error) {
	var out struct {
		Winner *string `json:"winner"`
	}
	err := c.post(ctx, "/make_move", map[string]any{"player": player, "room_id": roomID, "col": col}, &out)
	return out.Winner, err
}

// feedURL maps the server's http(s) base to the room's WebSocket feed.
func (c *apiClient) feedURL(player, roomID string) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"room_id": {roomID}, "player": {player}}.Encode()
	return u.String(), nil
}

var marks = map[int]string{room.Empty: ".", room.Player1: "X", room.Player2: "O"}

// render draws the board with column numbers underneath.
func render(b room.Board) string {
	var sb strings.Builder
	for r := range b {
		for c := range b[r] {
			sb.WriteString(marks[b[r][c]])
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	for c := 0; c < room.Columns; c++ {
		fmt.Fprintf(&sb, "%d ", c)
	}
	sb.WriteByte('\n')
	return sb.String()
}
