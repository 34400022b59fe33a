// server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/kitokato77/cnc4-gs2/logger"
	"github.com/kitokato77/cnc4-gs2/services"
	"github.com/kitokato77/cnc4-gs2/session"
)

const (
	DefaultMaxWorkers     = 10
	DefaultRequestTimeout = 10 * time.Second
	DefaultHeartbeat      = 30 * time.Second
)

// Observer receives HTTP and feed metrics. monitor.Monitor implements it.
type Observer interface {
	ObserveRequest(route string, status int, d time.Duration)
	IncSubscribers()
	DecSubscribers()
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) IncSubscribers()                           {}
func (nopObserver) DecSubscribers()                           {}

type Options struct {
	MaxWorkers     int
	RequestTimeout time.Duration
	Heartbeat      time.Duration
	Observer       Observer
}

type GameServer struct {
	r              *chi.Mux
	rooms          *services.RoomService
	sessionManager *session.Manager
	observer       Observer
	upgrader       websocket.Upgrader
	workers        *semaphore.Weighted
	requestTimeout time.Duration
	heartbeat      time.Duration
	httpServer     *http.Server
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

func NewGameServer(rooms *services.RoomService, sessions *session.Manager, opts Options) *GameServer {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	s := &GameServer{
		r:              chi.NewRouter(),
		rooms:          rooms,
		sessionManager: sessions,
		observer:       opts.Observer,
		workers:        semaphore.NewWeighted(int64(opts.MaxWorkers)),
		requestTimeout: opts.RequestTimeout,
		heartbeat:      opts.Heartbeat,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.routes()
	return s
}

func (s *GameServer) routes() {
	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(requestLogger)
	s.r.Use(recoverer)
	s.r.Use(cors)
	s.r.Use(s.measure)

	// 普通请求受工作池和超时限制，长连接不受
	s.r.Group(func(api chi.Router) {
		api.Use(s.limitWorkers)
		api.Use(withTimeout(s.requestTimeout))

		api.Post("/create_room", s.handleCreateRoom)
		api.Post("/join_room", s.handleJoinRoom)
		api.Post("/quick_join", s.handleQuickJoin)
		api.Post("/set_ready", s.handleSetReady)
		api.Post("/make_move", s.handleMakeMove)
		api.Get("/game_state", s.handleGameState)
		api.Get("/lobby_status", s.handleLobbyStatus)
	})
	s.r.Get("/ws", s.handleWebSocket)

	s.r.NotFound(notFound)
	s.r.MethodNotAllowed(notFound)
}

// Handler exposes the router (useful for tests).
func (s *GameServer) Handler() http.Handler { return s.r }

// newHTTPServer closes the connection after every response.
func (s *GameServer) newHTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.SetKeepAlivesEnabled(false)
	return srv
}

func (s *GameServer) Start(addr string) error {
	s.httpServer = s.newHTTPServer(addr)
	logger.Log.Infof("Game server listening on %s", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends every event feed and waits for in-flight requests.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.sessionManager.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
