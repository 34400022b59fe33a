// monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitokato77/cnc4-gs2/logger"
)

type Metrics struct {
	RoomsCreated    prometheus.Counter
	PlayersJoined   prometheus.Counter
	Moves           prometheus.Counter
	GamesFinished   prometheus.Counter
	CASConflicts    prometheus.Counter
	ActiveRooms     prometheus.Gauge
	WSSubscribers   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total number of rooms created",
		}),
		PlayersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_joined_total",
			Help:      "Total number of players seated as second player",
		}),
		Moves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Total number of applied moves",
		}),
		GamesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Total number of games won",
		}),
		CASConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_conflicts_total",
			Help:      "Optimistic room updates that lost a race and were retried",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live rooms in the store",
		}),
		WSSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscribers",
			Help:      "Number of open room event feeds",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.RoomsCreated,
		m.PlayersJoined,
		m.Moves,
		m.GamesFinished,
		m.CASConflicts,
		m.ActiveRooms,
		m.WSSubscribers,
		m.RequestDuration,
	)

	return m
}

// Monitor owns a private registry so several instances can coexist in tests.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started",
		}, func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
	)
	return m
}

func (m *Monitor) Metrics() *Metrics { return m.metrics }

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves /metrics on addr in the background. The caller shuts
// the returned server down.
func (m *Monitor) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Log.Infof("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return srv
}

// --- services.Recorder ---

func (m *Monitor) RoomCreated()  { m.metrics.RoomsCreated.Inc() }
func (m *Monitor) PlayerJoined() { m.metrics.PlayersJoined.Inc() }
func (m *Monitor) MoveApplied()  { m.metrics.Moves.Inc() }
func (m *Monitor) GameFinished() { m.metrics.GamesFinished.Inc() }
func (m *Monitor) CASConflict()  { m.metrics.CASConflicts.Inc() }

// --- server ---

func (m *Monitor) ObserveRequest(route string, status int, d time.Duration) {
	m.metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Monitor) IncSubscribers() {
	m.metrics.WSSubscribers.Inc()
}

func (m *Monitor) DecSubscribers() {
	m.metrics.WSSubscribers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

// RoomCounter reports the number of live rooms.
type RoomCounter interface {
	Count(ctx context.Context) (int, error)
}

// SweepActiveRooms refreshes the active_rooms gauge from the store.
func (m *Monitor) SweepActiveRooms(ctx context.Context, rooms RoomCounter) {
	n, err := rooms.Count(ctx)
	if err != nil {
		logger.Log.Warnf("Counting rooms failed: %v", err)
		return
	}
	m.SetActiveRooms(n)
}
