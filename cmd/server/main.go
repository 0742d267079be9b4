package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/competition-engine/internal/auth"
	"github.com/tradeclash/competition-engine/internal/calendar"
	"github.com/tradeclash/competition-engine/internal/competition"
	"github.com/tradeclash/competition-engine/internal/config"
	"github.com/tradeclash/competition-engine/internal/events"
	"github.com/tradeclash/competition-engine/internal/leaderboard"
	"github.com/tradeclash/competition-engine/internal/logging"
	"github.com/tradeclash/competition-engine/internal/marketdata"
	"github.com/tradeclash/competition-engine/internal/metrics"
	"github.com/tradeclash/competition-engine/internal/model"
	"github.com/tradeclash/competition-engine/internal/order"
	"github.com/tradeclash/competition-engine/internal/store"
	"github.com/tradeclash/competition-engine/internal/symbol"
	"github.com/tradeclash/competition-engine/internal/trade"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Market calendar ---
	cal, err := loadCalendar(cfg)
	if err != nil {
		slog.Error("calendar init failed", "err", err)
		os.Exit(1)
	}

	// --- Event fan-out ---
	wsHub := trade.NewWSHub(logger)
	go wsHub.Run(ctx)

	publishers := events.Multi{wsHub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger), logger)
		defer kp.Close()
		publishers = append(publishers, kp)
		slog.Info("kafka event stream enabled", "topic", cfg.Kafka.Topic)
	}

	clock := calendar.SystemClock

	// --- Domain services ---
	engine := order.NewEngine(st, cal, clock, publishers, logger, order.Config{
		MaxAttempts: cfg.Order.MaxAttempts,
		BaseBackoff: cfg.Order.BaseBackoff,
		Timeout:     cfg.Order.Timeout,
		MaxQuoteAge: cfg.Order.MaxQuoteAge,
	})
	comps := competition.NewService(st, cfg.StartingCash, clock, logger)
	agg, err := leaderboard.NewAggregator(st, cfg.Leaderboard.CacheTTL, clock, publishers, logger)
	if err != nil {
		slog.Error("leaderboard init failed", "err", err)
		os.Exit(1)
	}
	defer agg.Close()
	if cfg.Leaderboard.Interval > 0 {
		go agg.Run(ctx, cfg.Leaderboard.Interval)
	}

	// --- Market data updater ---
	if cfg.MarketData.Disabled {
		slog.Warn("market data updater disabled")
	} else {
		updater, err := newUpdater(cfg, st, clock, publishers, logger)
		if err != nil {
			slog.Error("market data init failed", "err", err)
			os.Exit(1)
		}
		go updater.Run(ctx, cfg.MarketData.Interval)
	}

	tradeSvc := trade.NewService(engine, comps, agg, st, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"competition-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		switch {
		case cfg.Auth.UserHeader != "":
			r.Use(auth.HeaderMiddleware(cfg.Auth.UserHeader))
		case cfg.Auth.JWTSecret != "":
			r.Use(auth.Middleware(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)))
		default:
			slog.Warn("no AUTH_JWT_SECRET or AUTH_USER_HEADER set, every request is anonymous")
		}

		// WebSocket endpoint for live trade and price events.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("competition-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down competition-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("competition-engine stopped")
}

// openStore connects PostgreSQL (optionally fronted by Redis) or falls back
// to the in-memory store when DATABASE_URL is unset.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, closeAll, fmt.Errorf("database connection: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, func() {}, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL, logger)
		slog.Info("Redis quote cache enabled", "ttl", cfg.CacheTTL.String())
	}
	return st, closeAll, nil
}

// loadCalendar loads the exchange calendar and, when configured, replaces
// the coming year's sessions with Alpaca's trading calendar.
func loadCalendar(cfg config.Config) (*calendar.Calendar, error) {
	var (
		cal *calendar.Calendar
		err error
	)
	if cfg.CalendarFile != "" {
		cal, err = calendar.LoadFile(cfg.CalendarFile)
	} else {
		cal, err = calendar.Default()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Alpaca.SyncCalendar {
		client := alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
		})
		y, m, d := time.Now().In(cal.Location()).Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, cal.Location())
		if err := calendar.SyncFromAlpaca(client, cal, start, start.AddDate(1, 0, 0)); err != nil {
			// The static calendar still gates orders.
			slog.Warn("alpaca calendar sync failed", "err", err)
		} else {
			slog.Info("market calendar synced from alpaca")
		}
	}
	if now := time.Now(); !cal.Covers(now) {
		slog.Warn("market calendar lists no holidays for the current year; every weekday is treated as a session",
			"name", cal.Name(), "year", now.In(cal.Location()).Year())
	}
	slog.Info("market calendar loaded", "name", cal.Name(), "tz", cal.Location().String())
	return cal, nil
}

func newUpdater(cfg config.Config, st store.Store, clock calendar.Clock, pub events.Publisher, logger *slog.Logger) (*marketdata.Updater, error) {
	stocks, err := symbol.ParseList(cfg.MarketData.Stocks, model.AssetStock)
	if err != nil {
		return nil, fmt.Errorf("MARKET_DATA_STOCKS: %w", err)
	}
	crypto, err := symbol.ParseList(cfg.MarketData.Crypto, model.AssetCrypto)
	if err != nil {
		return nil, fmt.Errorf("MARKET_DATA_CRYPTO: %w", err)
	}

	var provider marketdata.Provider
	switch strings.ToLower(cfg.MarketData.Provider) {
	case config.ProviderAlpaca:
		client := marketdata.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
		provider = marketdata.NewAlpaca(client, cfg.Alpaca.Feed)
	default:
		if cfg.AlphaVantage.APIKey == "" {
			slog.Warn("ALPHA_VANTAGE_API_KEY not set, quote fetches will fail")
		}
		provider = marketdata.NewAlphaVantage(cfg.AlphaVantage.APIKey, cfg.AlphaVantage.BaseURL, cfg.AlphaVantage.Timeout)
	}

	opts := marketdata.Options{
		Static:      symbol.Merge(stocks, crypto),
		Limiter:     marketdata.NewRateLimiter(cfg.MarketData.RateLimitPerMin),
		Concurrency: cfg.MarketData.Concurrency,
		Clock:       clock,
		Publisher:   pub,
	}
	if cfg.MarketData.IncludeHeld {
		opts.Held = st
	}
	return marketdata.NewUpdater(provider, st, opts, logger), nil
}
