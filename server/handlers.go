package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/room"
)

type errorBody struct {
	Error string `json:"error"`
}

type roomIDResponse struct {
	RoomID string `json:"room_id"`
}

type joinResponse struct {
	RoomID  string `json:"room_id"`
	Success bool   `json:"success"`
}

type readyResponse struct {
	AllReady bool `json:"all_ready"`
}

type moveResponse struct {
	Success bool    `json:"success"`
	Winner  *string `json:"winner"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnf("Writing response failed: %v", err)
	}
}

func statusFor(kind room.Kind) int {
	switch kind {
	case room.KindInvalidInput, room.KindInvalidState:
		return http.StatusBadRequest
	case room.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var re *room.Error
	if !errors.As(err, &re) {
		logger.Log.Errorf("Unclassified error: %v", err)
		re = room.ErrStoreUnavailable
	}
	writeJSON(w, statusFor(re.Kind), errorBody{Error: re.Message})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
}

func (s *GameServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	req, err := readPayload(r).playerRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.rooms.CreateRoom(r.Context(), req.Player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomIDResponse{RoomID: rm.ID})
}

func (s *GameServer) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	req, err := readPayload(r).roomRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.rooms.JoinRoom(r.Context(), req.Player, req.RoomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{RoomID: rm.ID, Success: true})
}

func (s *GameServer) handleQuickJoin(w http.ResponseWriter, r *http.Request) {
	req, err := readPayload(r).playerRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.rooms.QuickJoin(r.Context(), req.Player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomIDResponse{RoomID: rm.ID})
}

func (s *GameServer) handleSetReady(w http.ResponseWriter, r *http.Request) {
	req, err := readPayload(r).roomRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	allReady, err := s.rooms.SetReady(r.Context(), req.Player, req.RoomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{AllReady: allReady})
}

func (s *GameServer) handleMakeMove(w http.ResponseWriter, r *http.Request) {
	req, err := readPayload(r).moveRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.rooms.MakeMove(r.Context(), req.Player, req.RoomID, req.Col)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{Success: true, Winner: res.Winner})
}

func (s *GameServer) handleGameState(w http.ResponseWriter, r *http.Request) {
	view, err := s.rooms.GameState(r.Context(), r.URL.Query().Get("room_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *GameServer) handleLobbyStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.rooms.LobbyStatus(r.Context(), r.URL.Query().Get("room_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
