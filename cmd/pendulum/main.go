package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pendulum/internal/config"
	"pendulum/internal/db"
	"pendulum/internal/engine"
	"pendulum/internal/feed"
	"pendulum/internal/market"
	"pendulum/internal/notify"
	"pendulum/internal/performance"
	"pendulum/internal/risk"
	"pendulum/internal/scheduler"
	"pendulum/internal/strategy"
)

func main() {
	// Secrets (Telegram token, chat ID) come from the environment; a
	// local .env is a convenience, not a requirement.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("loading .env failed", "error", err)
	}

	configPath := "config.toml"
	if p := os.Getenv("PENDULUM_CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	})))

	slog.Info("pendulum starting", "mode", cfg.Trading.Mode)

	database, err := db.Open(cfg.General.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database initialized", "path", cfg.General.DBPath)

	repo := db.NewStore(database)

	// Two independent ledgers: the engine tracks cash for fills, the
	// portfolio tracks cash plus the full trade log. Divergence between
	// them is an accounting bug.
	var eng engine.ExecutionEngine
	switch cfg.Trading.Mode {
	case config.ModeLive:
		slog.Warn("live order routing is not implemented, all orders will be refused")
		eng = engine.NewLiveEngine()
	default:
		eng = engine.NewPaperEngine(cfg.Trading)
	}

	portfolio := risk.NewPortfolio(repo, cfg.Trading.InitialCapital)
	if err := portfolio.Restore(); err != nil {
		slog.Error("failed to restore portfolio state", "error", err)
		os.Exit(1)
	}
	eng.RestoreBalance(portfolio.Balance())
	slog.Info("portfolio restored", "balance", portfolio.Balance())

	breaker := risk.NewCircuitBreaker(repo, cfg.Risk)

	priceFeed := feed.NewPriceFeed(cfg.Feed)

	// Ensemble first: its majority vote outranks the standalone
	// arbitrage check, which only fires on gross mispricing.
	ensemble := strategy.NewEnsemble([]strategy.Strategy{
		strategy.NewDirectional(),
		strategy.NewImbalance(cfg.Strategy),
		strategy.NewMomentum(priceFeed, cfg.Strategy),
	}, cfg.Strategy.EnsembleMinVotes)
	strategies := []strategy.Strategy{
		ensemble,
		strategy.NewArbitrage(cfg.Trading),
	}
	slog.Info("strategies registered", "count", len(strategies))

	scanner := market.NewScanner(cfg.Markets)
	books := market.NewBookReader(cfg.Markets)
	tracker := performance.NewTracker(database)

	notifier, err := notify.NewNotifier(cfg.Telegram)
	if err != nil {
		slog.Error("failed to initialize telegram", "error", err)
		os.Exit(1)
	}

	bot := scheduler.New(
		scanner, books, priceFeed, strategies,
		eng, portfolio, breaker, repo, notifier, tracker, cfg,
	)

	commands := notify.NewCommandLoop(notifier, repo, bot, cfg.Trading.Mode, cfg.Trading.InitialCapital)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go priceFeed.Run(ctx)
	go commands.Run(ctx)

	notifier.NotifyStartup(cfg.Trading.Mode, portfolio.Balance(), cfg.Trading.BetSize)

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	if err := portfolio.SaveSnapshot(); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
	slog.Info("pendulum stopped", "balance", portfolio.Balance())
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
