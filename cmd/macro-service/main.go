package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"macro-service/internal/config"
	"macro-service/internal/engine"
	"macro-service/internal/httpapi"
	"macro-service/internal/middleware"
	"macro-service/internal/mqtt"
	"macro-service/internal/platform"
	"macro-service/internal/sched"
	"macro-service/internal/store"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	var db *gorm.DB
	var err error
	if cfg.UsePostgres() {
		db, err = store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
	} else {
		slog.Info("using embedded store", "path", cfg.StorePath)
		db, err = store.OpenSQLite(cfg.StorePath)
	}
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, bridge := buildDevice(cfg)

	eng := engine.New(repo, device, engine.Options{})
	scheduler := sched.New(repo, func(ctx context.Context, macroID int64, kind string) {
		if _, err := eng.ExecuteMacro(ctx, macroID, kind); err != nil {
			slog.Error("triggered execution failed", "macro_id", macroID, "trigger", kind, "error", err)
		}
	})
	eng.SetRegistrar(scheduler)

	if err := scheduler.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	if bridge != nil {
		handlers := platform.EventHandlers{
			Network:   scheduler.HandleNetworkEvent,
			Clipboard: scheduler.HandleClipboardEvent,
		}
		if err := bridge.SubscribeEvents(handlers); err != nil {
			slog.Error("agent event subscribe failed", "error", err)
		}
	}

	var pubKey *rsa.PublicKey
	if strings.TrimSpace(cfg.JWTPublicKeyPath) != "" {
		pubKey, err = middleware.LoadRSAPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			slog.Error("jwt public key load failed", "path", cfg.JWTPublicKeyPath, "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("JWT_PUBLIC_KEY_PATH not set; API routes will reject requests")
	}

	srv := httpapi.New(repo, eng, scheduler, pubKey)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("macro-service listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

// buildDevice connects the MQTT agent bridge when a broker is configured and
// falls back to the in-process device otherwise. The bridge is returned so
// callers can subscribe to unsolicited agent events; it is nil for the local
// device.
func buildDevice(cfg config.Config) (platform.Device, *platform.AgentBridge) {
	if strings.TrimSpace(cfg.MQTTBrokerURL) == "" {
		slog.Info("no mqtt broker configured, using local device")
		return platform.NewLocalDevice(slog.Default()).AsDevice(), nil
	}
	mq, err := mqtt.New(cfg.MQTTBrokerURL)
	if err != nil {
		slog.Error("mqtt connect failed, using local device", "error", err)
		return platform.NewLocalDevice(slog.Default()).AsDevice(), nil
	}
	bridge := platform.NewAgentBridge(mq, time.Duration(cfg.AgentTimeoutSec)*time.Second)
	if err := bridge.Start(); err != nil {
		slog.Error("agent bridge subscribe failed, using local device", "error", err)
		return platform.NewLocalDevice(slog.Default()).AsDevice(), nil
	}
	return bridge.AsDevice(), bridge
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
