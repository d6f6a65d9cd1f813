// Package app wires configuration, storage, the pricing snapshot and the
// HTTP surface into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/creditrail/creditrail/internal/cache"
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/db"
	"github.com/creditrail/creditrail/internal/deduct"
	creditrailhttp "github.com/creditrail/creditrail/internal/http"
	"github.com/creditrail/creditrail/internal/http/api/admin"
	"github.com/creditrail/creditrail/internal/http/api/service"
	"github.com/creditrail/creditrail/internal/ledger"
	"github.com/creditrail/creditrail/internal/logging"
	"github.com/creditrail/creditrail/internal/pricing"
	"github.com/creditrail/creditrail/internal/settings"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and applies schema migrations, then exits.
func Migrate(cfgPath string) error {
	cfg, errLoad := config.Load(cfgPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Info("database migration completed")
	return nil
}

// Run starts the metering service and blocks until ctx is cancelled.
func Run(ctx context.Context, cfgPath string) error {
	cfg, errLoad := config.Load(cfgPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		log.WithError(errSettings).Warn("initial settings snapshot load failed, using defaults")
	}

	catalog := pricing.NewCatalog(conn)
	if errRefresh := catalog.Refresh(ctx); errRefresh != nil {
		return fmt.Errorf("app: initial pricing snapshot: %w", errRefresh)
	}
	catalog.StartRefresher(ctx)

	reconciler := ledger.NewReconciler(conn)
	reconciler.Start(ctx)

	var replay *cache.ReplayCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if errPing := client.Ping(ctx).Err(); errPing != nil {
			log.WithError(errPing).Warn("redis unreachable, replay cache disabled")
		} else {
			replay = cache.NewReplayCache(client, 0)
		}
	}

	engine := deduct.NewEngine(conn, catalog, replay)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestIDMiddleware())
	router.Use(creditrailhttp.RequestLogMiddleware())

	service.RegisterRoutes(router, conn, engine)
	admin.RegisterRoutes(router, cfg, conn, engine, catalog)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown incomplete")
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}
