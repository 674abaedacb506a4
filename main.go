package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"paste-analytics-service/config"
	"paste-analytics-service/db"
	"paste-analytics-service/events"
	"paste-analytics-service/handlers"
	"paste-analytics-service/metrics"
	"paste-analytics-service/middleware"
	"paste-analytics-service/retry"
	"paste-analytics-service/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to PostgreSQL
	pgDB, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgDB.Close()
	log.Println("Connected to PostgreSQL")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pgDB.RunMigration(migrateCtx, filepath.Join("migrations", "0001_init.sql")); err != nil {
		migrateCancel()
		log.Fatalf("Failed to apply migration: %v", err)
	}
	migrateCancel()

	// Connect to Redis
	redisDB, err := db.NewRedisDB(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()
	log.Println("Connected to Redis")

	// Shared pipeline state: queue, metrics window, publisher. Built here
	// and injected; nothing hangs off package globals.
	queue := events.NewQueue(cfg.QueueSize)
	recorder := metrics.NewRecorder()
	publisher := events.NewPublisher(pgDB, queue, recorder, cfg.CallTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:     cfg.MaxRetries,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
	reconciler := workers.NewReconciler(redisDB, pgDB, cfg.ReconcileInterval, cfg.CallTimeout, policy)
	aggregator := workers.NewAggregator(queue, pgDB, recorder,
		cfg.CallTimeout, cfg.DequeueTimeout, cfg.MaxEventFailures, cfg.BackfillBatch)

	var workerWG sync.WaitGroup
	workerWG.Add(2)
	go func() {
		defer workerWG.Done()
		reconciler.Run(ctx)
	}()
	go func() {
		defer workerWG.Done()
		aggregator.Run(ctx)
	}()

	viewHandler := handlers.NewViewHandler(pgDB, redisDB, publisher, cfg.CacheTTL, cfg.CallTimeout)
	pasteHandler := handlers.NewPasteHandler(pgDB, redisDB, cfg.CacheTTL, cfg.CallTimeout)
	analyticsHandler := handlers.NewAnalyticsHandler(pgDB, redisDB, recorder, cfg.CallTimeout)

	recordView := viewHandler.Record()
	createPaste := pasteHandler.Create()
	getPaste := pasteHandler.Get()
	deletePaste := pasteHandler.Delete()
	getAnalytics := analyticsHandler.GetPasteAnalytics()
	listAnalytics := analyticsHandler.ListAnalytics()
	systemMetrics := analyticsHandler.SystemMetrics()

	router := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasPrefix(path, "/view/"):
			recordView.ServeHTTP(w, r)
		case path == "/pastes" && r.Method == http.MethodPost:
			createPaste.ServeHTTP(w, r)
		case strings.HasPrefix(path, "/pastes/") && r.Method == http.MethodDelete:
			deletePaste.ServeHTTP(w, r)
		case strings.HasPrefix(path, "/pastes/"):
			getPaste.ServeHTTP(w, r)
		case path == "/analytics/system":
			systemMetrics.ServeHTTP(w, r)
		case path == "/analytics":
			listAnalytics.ServeHTTP(w, r)
		case strings.HasPrefix(path, "/analytics/"):
			getAnalytics.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	handler := middleware.Chain(router,
		middleware.RateLimit(redisDB, 100, time.Minute),
		middleware.Logger,
	)

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.Health())
	mux.Handle("/ready", handlers.Readiness(pgDB, redisDB))
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        mux,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Stop the workers; the reconciler drains pending counters on its way
	// out so no views are stranded in the cache.
	cancel()
	workerWG.Wait()

	log.Println("Server stopped")
}
