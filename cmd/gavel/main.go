package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"gavel/internal/api"
	"gavel/internal/bidding"
	"gavel/internal/config"
	"gavel/internal/database"
	"gavel/internal/model"
	"gavel/internal/notify"
	"gavel/internal/observability"
	"gavel/internal/settings"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	demo := flag.Bool("demo", false, "seed a demo auction and log bidder and admin tokens")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := observability.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *demo); err != nil {
		logger.Error("gavel stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, demo bool) error {
	metrics := observability.NewMetrics("gavel")

	repo, closeRepo, err := openRepository(ctx, logger, cfg.Database)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	fallback := model.AuctionSettings{
		AutoExtendTriggerMinutes:  cfg.Auction.AutoExtendTriggerMinutes,
		AutoExtendDurationMinutes: cfg.Auction.AutoExtendDurationMinutes,
	}
	provider := settings.NewCached(logger, repo, fallback, cfg.Auction.SettingsCacheTTL)

	hub := notify.NewHub(logger, metrics)
	defer hub.Close()

	var sinks []notify.Sink
	for _, name := range cfg.Notify.Sinks {
		sink, closeSink, err := notify.NewSink(ctx, name, logger, notify.Deps{Hub: hub, ClickHouseDSN: cfg.Notify.ClickHouseDSN})
		if err != nil {
			return err
		}
		defer closeSink()
		sinks = append(sinks, sink)
	}
	emitter := notify.NewMulti(logger, metrics, sinks...)
	logger.Info("Notification sinks configured", "sinks", emitter.Sinks())

	gate := bidding.NewGate(logger, bidding.GateConfig{
		MaxAttempts: cfg.Gate.MaxAttempts,
		BaseBackoff: cfg.Gate.BaseBackoff,
		MaxBackoff:  cfg.Gate.MaxBackoff,
	}, metrics)
	engine := bidding.NewEngine(logger, repo, provider, emitter,
		bidding.WithGate(gate),
		bidding.WithMetrics(metrics),
		bidding.WithMinRatingPercent(cfg.Bidding.MinRatingPercent),
	)

	auth, err := api.NewAuthenticator(cfg.Server.JWTSecret)
	if err != nil {
		return err
	}

	if demo {
		if err := seedDemo(ctx, logger, repo, auth); err != nil {
			return err
		}
	}

	if cfg.Scheduler.CloseInterval > 0 {
		go engine.Closer().Run(ctx, cfg.Scheduler.CloseInterval)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(logger, engine, auth, hub, metrics).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gavel listening", "addr", cfg.Server.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openRepository(ctx context.Context, logger *slog.Logger, cfg config.DatabaseConfig) (database.Repository, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory storage, state is lost on restart")
		return database.NewMemoryRepository(), func() {}, nil
	}
	repo, err := database.NewPostgresRepository(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

// seedDemo lists one auction and prints a bidder token for trying the API.
func seedDemo(ctx context.Context, logger *slog.Logger, repo database.Repository, auth *api.Authenticator) error {
	now := time.Now().UTC()
	p := &model.Product{
		ID:           uuid.New(),
		SellerID:     uuid.New(),
		Title:        "Demo auction",
		StartPrice:   decimal.NewFromInt(1000),
		StepPrice:    decimal.NewFromInt(50),
		BuyNowPrice:  decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		CurrentPrice: decimal.NewFromInt(1000),
		Status:       model.StatusActive,
		EndTime:      now.Add(30 * time.Minute),
		AutoExtend:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateProduct(ctx, p); err != nil {
		return err
	}

	bidder := uuid.New()
	token, err := auth.Issue(bidder, "bidder", 24*time.Hour)
	if err != nil {
		return err
	}
	admin, err := auth.Issue(uuid.New(), api.RoleAdmin, 24*time.Hour)
	if err != nil {
		return err
	}
	logger.Info("Demo auction seeded", "product", p.ID, "endTime", p.EndTime, "bidder", bidder, "bidderToken", token, "adminToken", admin)
	return nil
}
