package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkarlsson/sharesync/internal/api"
	"github.com/mkarlsson/sharesync/internal/changelog"
	"github.com/mkarlsson/sharesync/internal/config"
	"github.com/mkarlsson/sharesync/internal/metrics"
	"github.com/mkarlsson/sharesync/internal/repository"
	"github.com/mkarlsson/sharesync/internal/service"
	"github.com/mkarlsson/sharesync/pkg/logging"
)

func main() {
	logging.Setup()

	// Load configuration
	cfg := config.LoadConfig()

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		slog.Error("failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create repository, changelog writer and service
	repo := repository.NewPostgresRepository(db)
	writer := changelog.NewWriter(repo)
	svc := service.NewDefaultService(repo, writer, cfg.Auth.JWTSecret,
		cfg.Server.Location(), cfg.Server.BaseURL)

	// Create API handler
	handler := api.NewHandler(svc, []byte(cfg.Auth.JWTSecret))

	// Set up Gin router
	router := gin.Default()

	// Set up routes
	handler.SetupRoutes(router)

	// The store has no native TTL, so expired changelog entries are
	// swept on a timer. The sweep is idempotent and safe to run
	// alongside writes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweepExpiredEntries(ctx, repo, cfg.Sync.SweepInterval)

	// Start server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func sweepExpiredEntries(ctx context.Context, repo repository.Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpiredEntries(ctx, time.Now())
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				metrics.ExpiredEntriesSwept.Add(float64(n))
				slog.Info("retention sweep removed expired entries", "count", n)
			}
		}
	}
}
