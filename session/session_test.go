package session

import (
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent   []any
	closed atomic.Bool
}

func (m *MockConnection) SendJSON(v any) error {
	m.sent = append(m.sent, v)
	return nil
}
func (m *MockConnection) Ping() error                         { return nil }
func (m *MockConnection) Close() error                        { m.closed.Store(true); return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) Drain() error                        { return nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestNewSession(t *testing.T) {
	a := NewSession(&MockConnection{}, "alice", "room1")
	b := NewSession(&MockConnection{}, "alice", "room1")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("sessions need distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.PlayerID != "alice" || a.RoomID != "room1" {
		t.Fatalf("unexpected session %+v", a)
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sess := NewSession(&MockConnection{}, "alice", "room1")

	// Test Add
	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	// Test Get
	retrievedSess, exists := manager.Get(sess.ID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	// Test Remove
	manager.Remove(sess.ID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	_, exists = manager.Get(sess.ID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByRoom(t *testing.T) {
	manager := NewManager()

	manager.Add(NewSession(&MockConnection{}, "alice", "room1"))
	manager.Add(NewSession(&MockConnection{}, "bob", "room2"))
	manager.Add(NewSession(&MockConnection{}, "bob", "room1"))

	if got := len(manager.GetByRoom("room1")); got != 2 {
		t.Errorf("Expected 2 sessions for room1, got %d", got)
	}
	if got := len(manager.GetByRoom("room2")); got != 1 {
		t.Errorf("Expected 1 session for room2, got %d", got)
	}
	if got := len(manager.GetByRoom("room3")); got != 0 {
		t.Errorf("Expected 0 sessions for room3, got %d", got)
	}
}

func TestSession_Send(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession(conn, "alice", "room1")
	before := sess.LastActive()

	time.Sleep(time.Millisecond)
	if err := sess.Send(map[string]string{"type": "move"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(conn.sent))
	}
	if !sess.LastActive().After(before) {
		t.Error("Send should refresh LastActive")
	}
}

func TestManager_CloseAll(t *testing.T) {
	manager := NewManager()
	c1, c2 := &MockConnection{}, &MockConnection{}
	manager.Add(NewSession(c1, "alice", "room1"))
	manager.Add(NewSession(c2, "bob", "room1"))

	manager.CloseAll()

	if manager.Count() != 0 {
		t.Fatalf("Expected no sessions after CloseAll, got %d", manager.Count())
	}
	if !c1.closed.Load() || !c2.closed.Load() {
		t.Error("CloseAll should close every connection")
	}
}
