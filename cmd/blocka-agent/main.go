package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blokadaorg/blocka-agent/internal/api"
	"github.com/blokadaorg/blocka-agent/internal/config"
	"github.com/blokadaorg/blocka-agent/internal/db"
	"github.com/blokadaorg/blocka-agent/internal/entitlement"
	"github.com/blokadaorg/blocka-agent/internal/httpapi"
	"github.com/blokadaorg/blocka-agent/internal/logging"
	"github.com/blokadaorg/blocka-agent/internal/reconcile"
	"github.com/blokadaorg/blocka-agent/internal/store"
	"github.com/blokadaorg/blocka-agent/internal/wireguard"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// main runs the agent and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("agent failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, wires the engine, and serves until
// interrupted.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("blocka-agent", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	cfg, errLoad := config.Load(config.ResolveConfigPath(*cfgPath))
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	stateStore := store.NewStateStore(conn)

	clientOpts := []api.Option{
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
	}
	if cfg.API.BaseURL != "" {
		clientOpts = append(clientOpts, api.WithBaseURL(cfg.API.BaseURL))
	}
	client := api.NewClient(clientOpts...)

	accountState, hadAccount, errAccount := stateStore.LoadAccount(ctx)
	if errAccount != nil {
		return errAccount
	}
	leaseState, hadLease, errLease := stateStore.LoadLease(ctx)
	if errLease != nil {
		return errLease
	}
	log.WithField("account", hadAccount).WithField("lease", hadLease).
		Debug("hydrated persisted state")

	accounts := entitlement.NewAccountManager(client, wireguard.GenerateKeypair, accountState)
	leases := entitlement.NewLeaseManager(client, client, cfg.Sync.DeviceAlias, leaseState)
	scheduler := reconcile.NewScheduler(accounts, leases, stateStore, cfg.Sync.DailyInterval)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewHandler(accounts, leases, scheduler, stateStore)
	server := &http.Server{Addr: cfg.Server.Listen, Handler: handler.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown failed")
		}
	}()

	log.Infof("blocka-agent listening on %s", cfg.Server.Listen)
	if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return errServe
	}
	return nil
}
