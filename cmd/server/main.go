package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/analysis"
	"github.com/thisyearnofear/weather-sub001/internal/api"
	"github.com/thisyearnofear/weather-sub001/internal/catalog"
	"github.com/thisyearnofear/weather-sub001/internal/config"
	"github.com/thisyearnofear/weather-sub001/internal/discovery"
	"github.com/thisyearnofear/weather-sub001/internal/llm"
	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/notify"
	"github.com/thisyearnofear/weather-sub001/internal/polymarket"
	"github.com/thisyearnofear/weather-sub001/internal/quota"
	"github.com/thisyearnofear/weather-sub001/internal/resilience"
	"github.com/thisyearnofear/weather-sub001/internal/scheduler"
	"github.com/thisyearnofear/weather-sub001/internal/scoring"
	"github.com/thisyearnofear/weather-sub001/internal/store"
)

// catalogRetention is how long a Redis catalog snapshot survives for stale
// serving after its last refresh.
const catalogRetention = 24 * time.Hour

func main() {
	configPath := flag.String("config", os.Getenv("WEATHER_EDGE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx := context.Background()
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize stores ---
	var (
		catalogSlot   store.CatalogStore
		analysisStore store.AnalysisStore
		signalStore   store.SignalStore
	)

	if redisURL := cfg.Storage.RedisURL; redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
		catalogSlot = store.NewRedisCatalogStore(rdb, catalogRetention)
		analysisStore = store.NewRedisAnalysisStore(rdb, cfg.Analysis.CacheTTL)
		slog.Info("Redis caches enabled")
	} else {
		slog.Warn("redis url not set, using in-memory caches")
		catalogSlot = store.NewMemoryCatalogStore()
		analysisStore = store.NewMemoryAnalysisStore(cfg.Analysis.CacheMaxEntries)
	}

	if dbURL := cfg.Storage.DatabaseURL; dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresSignalStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("signal schema migration failed", "err", err)
			os.Exit(1)
		}
		signalStore = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database url not set, using in-memory signal store (data will not persist)")
		signalStore = store.NewMemorySignalStore()
	}

	// --- Market catalog ---
	fetcher := polymarket.NewClient(polymarket.Config{
		BaseURL:  cfg.Polymarket.APIBaseURL,
		PageSize: cfg.Polymarket.PageSize,
		MaxPages: cfg.Polymarket.MaxPages,
		Timeout:  cfg.Polymarket.Timeout,
		Backoff:  resilience.DefaultBackoff(),
	})
	catalogCache := catalog.New(fetcher, catalogSlot, catalog.Options{
		TTL:            cfg.Catalog.TTL,
		RefreshTimeout: cfg.Catalog.RefreshTimeout,
		VolumeFloor:    decimal.NewFromFloat(cfg.Catalog.VolumeFloor),
	})

	scorer := scoring.NewScorer(scoring.Thresholds{
		High:   cfg.Scoring.HighThreshold,
		Medium: cfg.Scoring.MediumThreshold,
	})
	ranker := discovery.NewRanker(scorer)

	// --- Analysis ---
	if cfg.Model.APIKey == "" {
		slog.Warn("model api key not set, analysis requests will fail")
	}
	modelClient := llm.NewClient(llm.Config{
		BaseURL:      cfg.Model.BaseURL,
		APIKey:       cfg.Model.APIKey,
		Model:        cfg.Model.Name,
		DeepModel:    cfg.Model.DeepName,
		BasicTimeout: cfg.Model.BasicTimeout,
		DeepTimeout:  cfg.Model.DeepTimeout,
	})
	orchestrator := analysis.New(modelClient, analysis.NewCache(analysisStore, cfg.Analysis.CacheTTL, nil), nil)

	limiter := quota.NewLimiter(cfg.Quota.DeepPerClient, cfg.Quota.DeepPerNetwork, cfg.Quota.Window)

	// --- Notifications ---
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "")
		if err != nil {
			slog.Error("telegram setup failed", "err", err)
			os.Exit(1)
		}
		notifier = tg
		slog.Info("Telegram alerts enabled", "chat_id", cfg.Telegram.ChatID)
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(ctx)
	cleanup = append(cleanup, stopHub)
	hub := api.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run(hubCtx)

	// --- Catalog warmer ---
	if cfg.Catalog.WarmEnabled {
		warmer := scheduler.New(catalogCache, cfg.Catalog.WarmInterval)
		if err := warmer.Start(); err != nil {
			slog.Error("catalog warmer failed to start", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, warmer.Stop)
	}

	svc := api.NewService(api.Deps{
		Catalog:      catalogCache,
		Ranker:       ranker,
		Analyzer:     orchestrator,
		Signals:      signalStore,
		Quota:        limiter,
		Notifier:     notifier,
		Hub:          hub,
		DegradeEmpty: cfg.Catalog.DegradeEmpty,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.AllowedOrigins))

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("weather-edge listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down weather-edge...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("weather-edge stopped")
}

// cors allows cross-origin requests from the configured origins.
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{"GET", "POST", "PATCH", "OPTIONS"}, ", "))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
