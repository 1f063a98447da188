package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the exit monitor.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleDur         prometheus.Histogram
	PositionsChecked prometheus.Counter
	ActivePositions  prometheus.Gauge

	// Exit path
	ExitsTotal       *prometheus.CounterVec // labels: rule
	DispatchFailures prometheus.Counter
	NotifyFailures   prometheus.Counter

	// PnL resolution
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	PnLRecomputes prometheus.Counter
	PriceMisses   prometheus.Counter

	// Reconciliation sweep
	OrphansSwept prometheus.Counter
	SweepsTotal  prometheus.Counter

	// Supervision
	WatchdogRestarts   prometheus.Counter
	PositionFaults     prometheus.Counter
	HeartbeatAge       prometheus.Gauge
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close

	// Store latency
	StoreQueryDur prometheus.Histogram
	CacheReadDur  prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_cycles_total",
			Help: "Total monitoring cycles started",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitmon_cycle_duration_seconds",
			Help:    "Enforcement cycle wall time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		PositionsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_positions_checked_total",
			Help: "Positions evaluated across all cycles",
		}),
		ActivePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitmon_active_positions",
			Help: "Active positions seen in the last cycle",
		}),

		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitmon_exits_total",
			Help: "Exits dispatched (by winning rule)",
		}, []string{"rule"}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_dispatch_failures_total",
			Help: "Exit dispatches that failed to execute",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_notify_failures_total",
			Help: "Exit notifications that failed (logged, not raised)",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_pnl_cache_hits_total",
			Help: "PnL resolutions served by a fresh cache entry",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_pnl_cache_misses_total",
			Help: "PnL resolutions that fell through to recomputation",
		}),
		PnLRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_pnl_recomputes_total",
			Help: "PnL snapshots recomputed from live price",
		}),
		PriceMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_price_misses_total",
			Help: "Resolutions where no live price was available",
		}),

		OrphansSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_orphan_cache_entries_swept_total",
			Help: "Orphaned PnL cache entries removed by reconciliation",
		}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_reconciliation_sweeps_total",
			Help: "Reconciliation sweeps actually run (not rate-limited away)",
		}),

		WatchdogRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_watchdog_restarts_total",
			Help: "Monitor loop restarts triggered by the watchdog",
		}),
		PositionFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitmon_position_faults_total",
			Help: "Per-position processing failures caught and skipped",
		}),
		HeartbeatAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitmon_heartbeat_age_seconds",
			Help: "Seconds since the monitor loop last reported alive",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitmon_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitmon_session_transitions_total",
			Help: "Market session transitions (open, close)",
		}, []string{"type"}),

		StoreQueryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitmon_store_query_duration_seconds",
			Help:    "SQLite position store query latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheReadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitmon_cache_read_duration_seconds",
			Help:    "Redis snapshot cache read latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.PositionsChecked,
		m.ActivePositions,
		m.ExitsTotal,
		m.DispatchFailures,
		m.NotifyFailures,
		m.CacheHits,
		m.CacheMisses,
		m.PnLRecomputes,
		m.PriceMisses,
		m.OrphansSwept,
		m.SweepsTotal,
		m.WatchdogRestarts,
		m.PositionFaults,
		m.HeartbeatAge,
		m.MarketState,
		m.SessionTransitions,
		m.StoreQueryDur,
		m.CacheReadDur,
	)

	return m
}

// HealthStatus represents the exit monitor's health.
type HealthStatus struct {
	mu sync.RWMutex

	MonitorAlive   bool      `json:"monitor_alive"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	GatewayOK      bool      `json:"gateway_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetMonitorAlive(v bool) {
	h.mu.Lock()
	h.MonitorAlive = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleAt(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetGatewayOK(v bool) {
	h.mu.Lock()
	h.GatewayOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.MonitorAlive || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.MonitorAlive && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		MonitorAlive    bool    `json:"monitor_alive"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		GatewayOK       bool    `json:"gateway_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		MonitorAlive:    h.MonitorAlive,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		GatewayOK:       h.GatewayOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
