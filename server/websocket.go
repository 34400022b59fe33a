package server

import (
	"net/http"
	"time"

	"github.com/kitokato77/cnc4-gs2/broadcast"
	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/network"
	"github.com/kitokato77/cnc4-gs2/room"
	"github.com/kitokato77/cnc4-gs2/session"
)

// handleWebSocket streams the events of one room to one of its players.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID, player := q.Get("room_id"), q.Get("player")
	if player == "" {
		writeError(w, room.ErrMissingPlayer)
		return
	}
	if roomID == "" {
		writeError(w, room.ErrMissingRoomID)
		return
	}

	// 先订阅再升级，避免漏掉升级期间的事件
	sub, err := s.rooms.Subscribe(r.Context(), player, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(wsConn, player, roomID)
	s.sessionManager.Add(sess)
	s.observer.IncSubscribers()

	logger.Log.Infof("Feed opened for %s in room %s from %s, session ID: %s", player, roomID, wsConn.RemoteAddr(), sess.ID)

	defer func() {
		logger.Log.Infof("Feed closed for %s in room %s, session ID: %s", player, roomID, sess.ID)
		s.sessionManager.Remove(sess.ID)
		s.observer.DecSubscribers()
		wsConn.Close()
	}()

	if rm, err := s.rooms.Room(r.Context(), roomID); err == nil {
		if err := sess.Send(broadcast.NewEvent(broadcast.EventSnapshot, rm)); err != nil {
			return
		}
	}

	wsConn.SetHeartbeat(s.heartbeat)
	readErr := make(chan error, 1)
	go func() { readErr <- wsConn.Drain() }()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sess.Send(ev); err != nil {
				logger.Log.Debugf("Session %s send failed: %v", sess.ID, err)
				return
			}
		case <-ticker.C:
			if err := wsConn.Ping(); err != nil {
				return
			}
		case <-readErr:
			return
		case <-s.shutdownChan:
			return
		}
	}
}
