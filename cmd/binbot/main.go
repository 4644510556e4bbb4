package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/binbot/config"
	"github.com/alejandrodnm/binbot/internal/adapters/bridge"
	"github.com/alejandrodnm/binbot/internal/adapters/news"
	"github.com/alejandrodnm/binbot/internal/adapters/notify"
	"github.com/alejandrodnm/binbot/internal/adapters/paper"
	"github.com/alejandrodnm/binbot/internal/adapters/storage"
	"github.com/alejandrodnm/binbot/internal/application/calendar"
	"github.com/alejandrodnm/binbot/internal/application/executor"
	"github.com/alejandrodnm/binbot/internal/application/resolver"
	"github.com/alejandrodnm/binbot/internal/application/supervisor"
	"github.com/alejandrodnm/binbot/internal/ports"
)

// broker es lo que el wiring necesita de un adaptador: el puerto más la
// cotización de payout, que implementan ambos adaptadores.
type broker interface {
	ports.Broker
	ports.PayoutQuoter
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paperMode := flag.Bool("paper", false, "trade against the in-memory simulated broker")
	report := flag.Bool("report", false, "print the trade journal report and exit")
	limit := flag.Int("limit", 30, "number of recent trades in -report")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole()
	if *report {
		runReport(ctx, store, console, *limit)
		return
	}

	slog.Info("binbot starting",
		"config", *configPath,
		"paper", *paperMode,
		"policy", cfg.Session.Policy,
		"http", cfg.HTTP.Addr,
	)

	if err := run(ctx, cfg, *paperMode, store, console); err != nil {
		slog.Error("binbot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("binbot stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, paperMode bool, store *storage.SQLiteStorage, console *notify.Console) error {
	metrics := notify.NewMetrics()
	hub := notify.NewHub()
	go hub.Run(ctx)
	notifier := notify.Multi{console, metrics, hub}

	execCfg := cfg.ExecutorConfig()
	var b broker
	if paperMode {
		pcfg := cfg.PaperBroker()
		b = paper.New(pcfg)
		execCfg.ExpiryUnit = time.Duration(float64(time.Minute) / pcfg.SpeedFactor)
	} else {
		b = bridge.NewClient(cfg.Broker.BridgeURL, bridge.Credentials{
			Email:    cfg.Broker.Email,
			Password: cfg.Broker.Password,
			Mode:     cfg.Broker.Account,
		}, cfg.BrokerTimeout())
	}

	// supervisor y executor sobreviven a la señal: la cadena en curso puede
	// necesitar reconectar hasta que venza el plazo de Shutdown
	workCtx := context.WithoutCancel(ctx)

	sup := supervisor.New(cfg.SupervisorConfig(), b, notifier)
	if err := sup.Connect(ctx); err != nil {
		return err
	}
	sup.Start(workCtx)
	defer sup.Stop()

	cache := resolver.NewCache(b, cfg.InstrumentsMaxAge())
	if err := cache.Refresh(ctx); err != nil {
		slog.Warn("initial instruments refresh failed, worker will retry", "err", err)
	}
	go cache.Run(ctx, cfg.InstrumentsRefresh())

	cal := calendar.New(cfg.CalendarConfig(), news.NewClient(cfg.News.FeedURL), notifier)
	if cal.Enabled() {
		go cal.Run(ctx, cfg.NewsRefresh())
	}

	exec := executor.New(execCfg, executor.Deps{
		Broker:   b,
		Resolver: resolver.New(cache, b),
		Conn:     sup,
		News:     cal,
		Notifier: notifier,
		Storage:  store,
	})
	exec.Start(workCtx)

	session := cfg.SessionParams()
	if cfg.Session.AutoStart {
		if _, err := exec.StartSession(ctx, session); err != nil {
			return err
		}
	}

	srv := newServer(cfg.HTTP.Addr, exec, session, metrics.Handler(), hub)
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("http: listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		slog.Error("http server failed", "err", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	return exec.Shutdown(shutdownCtx)
}

func runReport(ctx context.Context, store ports.TradeStorage, console *notify.Console, limit int) {
	trades, err := store.GetRecentTrades(ctx, limit)
	if err != nil {
		slog.Error("failed to load trades", "err", err)
		os.Exit(1)
	}
	sessions, err := store.GetSessionSummaries(ctx, 20)
	if err != nil {
		slog.Error("failed to load sessions", "err", err)
		os.Exit(1)
	}
	console.PrintReport(trades, sessions)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
