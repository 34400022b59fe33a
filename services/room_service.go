// services/room_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/kitokato77/cnc4-gs2/broadcast"
	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/models"
	"github.com/kitokato77/cnc4-gs2/persistence"
	"github.com/kitokato77/cnc4-gs2/room"
)

// DefaultMaxRetries bounds the optimistic update loop.
const DefaultMaxRetries = 8

const archiveTimeout = 5 * time.Second

// Recorder receives domain counters. monitor.Monitor implements it.
type Recorder interface {
	RoomCreated()
	PlayerJoined()
	MoveApplied()
	GameFinished()
	CASConflict()
}

type nopRecorder struct{}

func (nopRecorder) RoomCreated()  {}
func (nopRecorder) PlayerJoined() {}
func (nopRecorder) MoveApplied()  {}
func (nopRecorder) GameFinished() {}
func (nopRecorder) CASConflict()  {}

// Options carries the optional collaborators of RoomService.
type Options struct {
	Broadcaster broadcast.Broadcaster
	Archive     persistence.Archive
	Recorder    Recorder
	MaxRetries  int
	// NewID generates room ids; defaults to the first 8 characters of a UUIDv4.
	NewID func() string
}

// RoomService runs every room operation as a load-modify-conditional-store
// cycle against the RoomStore.
type RoomService struct {
	store       persistence.RoomStore
	broadcaster broadcast.Broadcaster
	archive     persistence.Archive
	recorder    Recorder
	maxRetries  int
	newID       func() string
}

func NewRoomService(store persistence.RoomStore, opts Options) *RoomService {
	s := &RoomService{
		store:       store,
		broadcaster: opts.Broadcaster,
		archive:     opts.Archive,
		recorder:    opts.Recorder,
		maxRetries:  opts.MaxRetries,
		newID:       opts.NewID,
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.newID == nil {
		s.newID = NewRoomID
	}
	return s
}

// NewRoomID returns a short random room id.
func NewRoomID() string {
	return uuid.New().String()[:8]
}

// MoveResult describes an applied move.
type MoveResult struct {
	Room      *room.Room
	Placement room.Placement
	Winner    *string
}

// GameView is the game_state projection of a room.
type GameView struct {
	Board  room.Board `json:"board"`
	Turn   int        `json:"turn"`
	Winner *string    `json:"winner"`
}

// LobbyView is the lobby_status projection of a room.
type LobbyView struct {
	Players []string        `json:"players"`
	Ready   map[string]bool `json:"ready"`
}

// CreateRoom opens a room seated with player.
func (s *RoomService) CreateRoom(ctx context.Context, player string) (*room.Room, error) {
	if player == "" {
		return nil, room.ErrMissingPlayer
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		r := room.New(s.newID(), player)
		err := s.store.Create(ctx, r)
		if errors.Is(err, persistence.ErrRoomExists) {
			logger.Log.Debugf("Room id %s already taken, retrying", r.ID)
			continue
		}
		if err != nil {
			return nil, s.storeError("create_room", r.ID, err)
		}
		logger.Log.Infof("Room %s created by %s", r.ID, player)
		s.recorder.RoomCreated()
		s.publish(ctx, broadcast.NewEvent(broadcast.EventRoomCreated, r))
		return r, nil
	}
	logger.Log.Errorf("create_room: no free room id after %d attempts", s.maxRetries)
	return nil, room.ErrStoreUnavailable
}

// JoinRoom seats player in the waiting room roomID.
func (s *RoomService) JoinRoom(ctx context.Context, player, roomID string) (*room.Room, error) {
	if player == "" {
		return nil, room.ErrMissingPlayer
	}
	if roomID == "" {
		return nil, room.ErrMissingRoomID
	}
	r, err := s.update(ctx, roomID, func(r *room.Room) error {
		return r.Join(player)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Infof("Player %s joined room %s", player, roomID)
	s.recorder.PlayerJoined()
	s.publish(ctx, broadcast.NewEvent(broadcast.EventPlayerJoined, r))
	return r, nil
}

// QuickJoin seats player in the first waiting room that still has a free
// seat when the claim commits, or creates a new room when none does.
func (s *RoomService) QuickJoin(ctx context.Context, player string) (*room.Room, error) {
	if player == "" {
		return nil, room.ErrMissingPlayer
	}
	for id, err := range s.store.ScanWaiting(ctx) {
		if err != nil {
			logger.Log.Warnf("quick_join: scan aborted: %v", err)
			break
		}
		r, err := s.JoinRoom(ctx, player, id)
		if err == nil {
			return r, nil
		}
		if room.KindOf(err) == room.KindUnavailable {
			return nil, err
		}
		// 房间已满、已过期或玩家已在房间中，换下一个
		logger.Log.Debugf("quick_join: %s skips room %s: %v", player, id, err)
	}
	return s.CreateRoom(ctx, player)
}

// SetReady marks player ready in roomID and reports whether both players are.
func (s *RoomService) SetReady(ctx context.Context, player, roomID string) (bool, error) {
	if player == "" {
		return false, room.ErrMissingPlayer
	}
	if roomID == "" {
		return false, room.ErrMissingRoomID
	}
	var allReady bool
	r, err := s.update(ctx, roomID, func(r *room.Room) error {
		var err error
		allReady, err = r.SetReady(player)
		return err
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return false, room.ErrInvalidRoomOrPlayer
	}
	if err != nil {
		return false, err
	}
	logger.Log.Infof("Player %s ready in room %s (all ready: %v)", player, roomID, allReady)
	s.publish(ctx, broadcast.NewEvent(broadcast.EventPlayerReady, r))
	return allReady, nil
}

// MakeMove drops player's mark into col of roomID.
func (s *RoomService) MakeMove(ctx context.Context, player, roomID string, col int) (*MoveResult, error) {
	if player == "" {
		return nil, room.ErrMissingPlayer
	}
	if roomID == "" {
		return nil, room.ErrMissingRoomID
	}
	var placement room.Placement
	r, err := s.update(ctx, roomID, func(r *room.Room) error {
		var err error
		placement, err = r.Move(player, col)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorder.MoveApplied()
	res := &MoveResult{Room: r, Placement: placement, Winner: r.Winner}

	ev := broadcast.NewEvent(broadcast.EventMove, r)
	ev.Move = &placement
	s.publish(ctx, ev)

	if r.Winner != nil {
		logger.Log.Infof("Player %s won room %s at (%d,%d)", *r.Winner, roomID, placement.Row, placement.Col)
		s.recorder.GameFinished()
		over := broadcast.NewEvent(broadcast.EventGameOver, r)
		over.Move = &placement
		s.publish(ctx, over)
		s.archiveGame(ctx, r)
	} else {
		logger.Log.Debugf("Player %s moved in room %s at (%d,%d)", player, roomID, placement.Row, placement.Col)
	}
	return res, nil
}

// Room returns the current document of roomID.
func (s *RoomService) Room(ctx context.Context, roomID string) (*room.Room, error) {
	if roomID == "" {
		return nil, room.ErrMissingRoomID
	}
	r, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, s.storeError("get", roomID, err)
	}
	return r, nil
}

// GameState returns the board, turn and winner of roomID.
func (s *RoomService) GameState(ctx context.Context, roomID string) (*GameView, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &GameView{Board: r.Board, Turn: r.Turn, Winner: r.Winner}, nil
}

// LobbyStatus returns the players of roomID and their ready flags.
func (s *RoomService) LobbyStatus(ctx context.Context, roomID string) (*LobbyView, error) {
	r, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &LobbyView{Players: r.Players, Ready: r.Ready}, nil
}

// Subscribe opens an event feed for a member of roomID.
func (s *RoomService) Subscribe(ctx context.Context, player, roomID string) (broadcast.Subscription, error) {
	if s.broadcaster == nil {
		return nil, errors.New("room events are not enabled")
	}
	r, err := s.Room(ctx, roomID)
	if errors.Is(err, room.ErrRoomNotFound) || (err == nil && r.Index(player) < 0) {
		return nil, room.ErrInvalidRoomOrPlayer
	}
	if err != nil {
		return nil, err
	}
	return s.broadcaster.Subscribe(ctx, roomID)
}

// update retries one optimistic cycle until it commits, mutate rejects it,
// or the retry budget runs out.
func (s *RoomService) update(ctx context.Context, roomID string, mutate func(*room.Room) error) (*room.Room, error) {
	b := &backoff.Backoff{
		Min:    5 * time.Millisecond,
		Max:    100 * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		r, err := s.store.Update(ctx, roomID, mutate)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, persistence.ErrConflict) {
			return nil, s.storeError("update", roomID, err)
		}

		s.recorder.CASConflict()
		delay := b.Duration()
		logger.Log.Debugf("Room %s changed under us (attempt %d), retrying in %v", roomID, attempt+1, delay)
		select {
		case <-ctx.Done():
			logger.Log.Errorf("update %s: %v", roomID, ctx.Err())
			return nil, room.ErrStoreUnavailable
		case <-time.After(delay):
		}
	}
	logger.Log.Errorf("update %s: still conflicting after %d attempts", roomID, s.maxRetries)
	return nil, room.ErrStoreUnavailable
}

// storeError turns a store failure into the error shown to callers.
func (s *RoomService) storeError(op, roomID string, err error) error {
	var re *room.Error
	switch {
	case errors.As(err, &re):
		return re
	case errors.Is(err, persistence.ErrRoomNotFound):
		return room.ErrRoomNotFound
	default:
		logger.Log.Errorf("%s %s: %v", op, roomID, err)
		return room.ErrStoreUnavailable
	}
}

func (s *RoomService) publish(ctx context.Context, ev broadcast.Event) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, ev); err != nil {
		logger.Log.Warnf("Publishing %s for room %s failed: %v", ev.Type, ev.RoomID, err)
	}
}

func (s *RoomService) archiveGame(ctx context.Context, r *room.Room) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	rec := &models.GameRecord{
		RoomID:     r.ID,
		Players:    r.Players,
		Winner:     *r.Winner,
		Moves:      r.MoveCount(),
		Board:      boardRows(r.Board),
		FinishedAt: time.Now().UTC(),
	}
	if err := s.archive.SaveGameRecord(ctx, rec); err != nil {
		logger.Log.Errorf("Archiving room %s failed: %v", r.ID, err)
		return
	}
	logger.Log.Infof("Room %s archived", r.ID)
}

func boardRows(b room.Board) [][]int {
	rows := make([][]int, len(b))
	for i := range b {
		rows[i] = append([]int(nil), b[i][:]...)
	}
	return rows
}
