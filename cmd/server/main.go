package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aegis-trader/paper-engine/internal/account"
	"github.com/aegis-trader/paper-engine/internal/analysis"
	"github.com/aegis-trader/paper-engine/internal/auth"
	"github.com/aegis-trader/paper-engine/internal/metrics"
	"github.com/aegis-trader/paper-engine/internal/quote"
	"github.com/aegis-trader/paper-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote source ---
	var quotes quote.Source
	if apiURL := os.Getenv("QUOTE_API_URL"); apiURL != "" {
		quotes = quote.NewClient(apiURL, os.Getenv("QUOTE_API_TOKEN"))
		slog.Info("using upstream quote API", "url", apiURL)
	} else {
		slog.Warn("QUOTE_API_URL not set, using mock quote source")
		quotes = quote.NewMockSource()
	}

	// --- Sessions ---
	sessions := auth.NewSessions()

	// --- WebSocket hub ---
	wsHub := account.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	accountSvc := account.NewService(st, wsHub)
	quoteSvc := quote.NewHandlers(quotes)
	analysisSvc := analysis.NewService(quotes, 45*time.Second)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(sessions.Middleware)

		// WebSocket endpoint for real-time trade broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		// Authentication.
		r.Post("/auth/login", sessions.Login)
		r.Post("/auth/logout", sessions.Logout)

		// Paper-trading ledger.
		r.Post("/trades", accountSvc.ExecuteTrade)
		r.Get("/portfolio", accountSvc.GetPortfolio)
		r.Get("/orders", accountSvc.GetOrders)
		r.Post("/portfolio/reset", accountSvc.ResetPortfolio)

		// Market data.
		r.Get("/quotes/{symbol}", quoteSvc.GetQuote)
		r.Get("/quotes/{symbol}/candles", quoteSvc.GetCandles)

		// Multi-agent analysis runs.
		r.Post("/analyze", analysisSvc.TriggerAnalysis)
		r.Get("/results/{runID}", analysisSvc.GetResults)
		r.Get("/runs", analysisSvc.ListRuns)
		r.Delete("/runs/{runID}", analysisSvc.CancelRun)
		r.Get("/stats", analysisSvc.Stats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
