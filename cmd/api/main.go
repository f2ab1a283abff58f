package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		obs.LogEvent("warn", "memory_store_active", map[string]any{
			"detail": "no GATEHOUSE_PG_DSN set, sessions will not survive restarts",
		})
		store = auth.NewMemoryStore()
	}

	issuer, err := auth.NewTokenIssuer(cfg.AccessSecret, cfg.RefreshSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	svc := auth.NewService(store, issuer)

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(svc, probe, httpapi.Options{
		Version:                 version,
		CORSOrigins:             cfg.CORSOrigins,
		RateBurst:               cfg.RateBurst,
		RatePerSec:              cfg.RatePerSec,
		RequestTimeout:          cfg.RequestTimeout,
		MaxBodyBytes:            cfg.MaxBodyBytes,
		CacheTTL:                cfg.CacheTTL,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerRecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		BreakerHalfOpenMax:      cfg.BreakerHalfOpenMax,
		RetryMax:                cfg.RetryMax,
		RetryBaseDelay:          cfg.RetryBaseDelay,
		RetryMaxDelay:           cfg.RetryMaxDelay,
	})

	rootCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go sessionJanitor(rootCtx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.RegisterGRPCHealth(grpcSrv, probe)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				obs.LogEvent("error", "grpc_serve_failed", map[string]any{"error": err.Error()})
			}
		}()
		obs.LogEvent("info", "grpc_health_listening", map[string]any{"addr": cfg.GRPCAddr})
	}

	obs.LogEvent("info", "server_starting", map[string]any{
		"addr":    cfg.Addr,
		"version": version,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	obs.SetReady(false)
	obs.LogEvent("info", "server_stopping", nil)
	stopCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if db != nil {
		_ = db.Close()
	}
	obs.LogEvent("info", "server_stopped", nil)
}

// sessionJanitor removes expired and long-revoked sessions every hour.
func sessionJanitor(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.CleanupSessions(ctx)
			if err != nil {
				obs.LogEvent("warn", "session_cleanup_failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				obs.LogEvent("info", "session_cleanup", map[string]any{"removed": n})
			}
		}
	}
}
