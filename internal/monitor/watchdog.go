package monitor

import (
	"log/slog"
	"sync"
	"time"

	"exit-systemv1/internal/metrics"
)

// Watchdog supervises the monitor loop from its own goroutine: when the
// loop's heartbeat goes stale it restarts the loop with a reset of run-state.
// This is the only defense against total loop death (a cycle stuck forever
// in an external call).
type Watchdog struct {
	loop   *Loop
	logger *slog.Logger
	met    *metrics.Metrics

	// Period is how often liveness is checked.
	Period time.Duration

	// StaleAfter is the heartbeat age at which the loop is judged dead.
	StaleAfter time.Duration

	// JoinTimeout bounds how long a restart waits for the old goroutine.
	JoinTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatchdog builds a watchdog for the given loop. met may be nil.
func NewWatchdog(loop *Loop, period, staleAfter time.Duration,
	logger *slog.Logger, met *metrics.Metrics) *Watchdog {

	if logger == nil {
		logger = slog.Default()
	}
	if period <= 0 {
		period = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 3 * period
	}
	return &Watchdog{
		loop:        loop,
		logger:      logger,
		met:         met,
		Period:      period,
		StaleAfter:  staleAfter,
		JoinTimeout: 10 * time.Second,
	}
}

// Start launches the watchdog goroutine. Starting a running watchdog is a
// no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.run(w.stop, w.done)
	w.logger.Info("watchdog started",
		slog.Duration("period", w.Period), slog.Duration("stale_after", w.StaleAfter))
}

// Stop signals the watchdog and waits up to timeout for it to finish.
func (w *Watchdog) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return true
	}
	close(w.stop)
	w.running = false
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Watchdog) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.Period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	if w.loop.Alive(w.StaleAfter) {
		return
	}
	w.logger.Error("monitor loop judged dead, restarting",
		slog.Duration("stale_after", w.StaleAfter))
	if w.met != nil {
		w.met.WatchdogRestarts.Inc()
	}
	w.loop.Restart(w.JoinTimeout)
}
