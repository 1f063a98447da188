package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"exit-systemv1/config"
	"exit-systemv1/internal/gateway"
	"exit-systemv1/internal/logger"
	"exit-systemv1/internal/markethours"
	"exit-systemv1/internal/metrics"
	"exit-systemv1/internal/model"
	"exit-systemv1/internal/monitor"
	"exit-systemv1/internal/notification"
	"exit-systemv1/internal/pnl"
	"exit-systemv1/internal/rules"
	redisstore "exit-systemv1/internal/store/redis"
	sqlitestore "exit-systemv1/internal/store/sqlite"
	"exit-systemv1/internal/strategyconf"
	"exit-systemv1/pkg/smartconnect"

	"github.com/shopspring/decimal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[exitmonitor] starting...")

	cfg := config.Load()
	slogger := logger.Init("exitmonitor", slog.LevelInfo)

	strategy, err := strategyconf.Load(cfg.StrategyPath)
	if err != nil {
		log.Fatalf("[exitmonitor] strategy document load failed: %v", err)
	}
	log.Printf("[exitmonitor] strategy document loaded from %s", cfg.StrategyPath)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Durable position store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[exitmonitor] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Snapshot cache & structure reader ----
	cache, err := redisstore.NewCache(redisstore.CacheConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[exitmonitor] redis init failed: %v", err)
	}
	defer cache.Close()
	structure := redisstore.NewStructureReaderWith(cache.Client())

	health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 15*time.Second)

	// ---- Broker surface ----
	var (
		prices model.PriceSource
		broker model.OrderGateway
	)
	if cfg.PaperMode {
		log.Println("[exitmonitor] *** PAPER MODE — sim gateway, no broker session ***")
		sim := gateway.NewSim(nil)
		prices, broker = sim, sim
	} else {
		sc := smartconnect.New(smartconnect.Config{APIKey: cfg.AngelAPIKey})
		if err := sc.Login(cfg.AngelClientCode, cfg.AngelPassword, cfg.AngelTOTPSecret); err != nil {
			log.Fatalf("[exitmonitor] broker login failed: %v", err)
		}
		sc.SessionExpiryHook = func() {
			log.Println("[exitmonitor] broker session expired, re-logging in")
			if err := sc.Login(cfg.AngelClientCode, cfg.AngelPassword, cfg.AngelTOTPSecret); err != nil {
				log.Printf("[exitmonitor] re-login failed: %v", err)
				health.SetGatewayOK(false)
			}
		}

		feed, err := smartconnect.NewFeed(sc, cfg.AngelAPIKey)
		if err != nil {
			log.Fatalf("[exitmonitor] feed init failed: %v", err)
		}
		feedPrices := gateway.NewFeedPrices(sc, feed)
		if err := feed.Connect(); err != nil {
			log.Printf("[exitmonitor] WARNING: feed connect failed: %v (REST quotes only)", err)
		} else {
			defer feed.Close()
			trackActive(ctx, store, feedPrices)
		}

		prices = feedPrices
		broker = gateway.NewLive(sc, feedPrices)
		health.SetGatewayOK(true)
	}

	// ---- Exit core ----
	resolver := pnl.NewResolver(cache, prices, pnl.ResolverConfig{
		FreshWindow: 5 * time.Second,
		ExecCost:    strategy.Decimal("floor.exec_cost_rupees", decimal.Zero),
	}, slogger, prom)
	reconciler := pnl.NewReconciler(cache, store, 5*time.Minute, slogger, prom)

	notifier := buildNotifier(cfg)
	dispatcher := monitor.NewDispatcher(store, cache, broker, resolver, notifier, nil, slogger, prom)

	session := markethours.NewSession()
	engine := rules.NewDefaultEngine(slogger, strategy)

	loop := monitor.NewLoop(monitor.LoopDeps{
		Store:      store,
		Resolver:   resolver,
		Reconciler: reconciler,
		Engine:     engine,
		Dispatcher: dispatcher,
		Floor:      monitor.NewFloorCheck(strategy),
		Zones:      monitor.NewZoneCheck(strategy),
		Session:    session,
		Structure:  structure,
		Cfg:        strategy,
		Logger:     slogger,
		Metrics:    prom,
	}, cfg.MonitorPeriod)

	watchdog := monitor.NewWatchdog(loop, cfg.WatchdogPeriod, 0, slogger, prom)

	loop.Start()
	watchdog.Start()
	health.SetMonitorAlive(true)
	log.Printf("[exitmonitor] monitoring every %s (watchdog every %s)", cfg.MonitorPeriod, cfg.WatchdogPeriod)

	<-sigCh
	log.Println("[exitmonitor] shutting down...")
	cancel()

	watchdog.Stop(5 * time.Second)
	if !loop.Stop(10 * time.Second) {
		log.Println("[exitmonitor] WARNING: monitor loop did not stop in time")
	}
	health.SetMonitorAlive(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[exitmonitor] bye")
}

// trackActive subscribes every active position's instrument on the tick feed
// so prices are flowing before the first enforcement cycle.
func trackActive(ctx context.Context, store model.PositionStore, prices *gateway.FeedPrices) {
	positions, err := store.ActivePositions(ctx)
	if err != nil {
		log.Printf("[exitmonitor] active position load failed: %v", err)
		return
	}
	for _, p := range positions {
		if err := prices.Track(p.Instrument); err != nil {
			log.Printf("[exitmonitor] feed subscribe failed for %s: %v", p.Instrument.Key(), err)
		}
	}
	log.Printf("[exitmonitor] tracking %d active positions on the feed", len(positions))
}

func buildNotifier(cfg *config.Config) model.ExitNotifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[exitmonitor] telegram notifier enabled")
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[exitmonitor] webhook notifier enabled")
	}
	return notification.NewExitAlerter(notification.NewMulti(backends...))
}
