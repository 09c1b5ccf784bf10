// Command mashd runs the MASH world server: the tick engine and the HTTP
// transport that exposes it, sharing a single entity store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Shoalstone/MASH/internal/app"
	"github.com/Shoalstone/MASH/internal/app/httpapi"
	"github.com/Shoalstone/MASH/internal/app/storage"
	"github.com/Shoalstone/MASH/internal/app/storage/postgres"
	"github.com/Shoalstone/MASH/internal/app/tick"
	"github.com/Shoalstone/MASH/internal/config"
	"github.com/Shoalstone/MASH/internal/platform/database"
	"github.com/Shoalstone/MASH/internal/platform/migrations"
	"github.com/Shoalstone/MASH/pkg/logger"
	"github.com/Shoalstone/MASH/pkg/version"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	printVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println(version.FullVersion())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log_ := logger.New(cfg.Logging)

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	var (
		db    *sql.DB
		store storage.Store
	)
	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		store = postgres.New(db)
		log_.Info("using postgres store")
	} else {
		store = storage.NewMemory()
		log_.Info("using in-memory store (no DSN configured)")
	}
	if db != nil {
		defer db.Close()
	}

	tickCfg := tick.Config{
		TickIntervalMS:         int64(cfg.World.TickIntervalMS),
		MaxAP:                  cfg.World.MaxAP,
		MaxBuyAP:               cfg.World.MaxBuyAP,
		MaxContainmentDepth:    cfg.World.MaxContainmentDepth,
		MaxInteractionsPerTick: cfg.World.MaxInteractionsPerTick,
		IdleTimeoutMS:          cfg.World.IdleTimeoutMS,
		EventTTLMS:             cfg.World.EventTTLMS,
	}
	application := app.New(store, tickCfg, log_)

	listenAddr := determineAddr(*addr, cfg)
	httpService := httpapi.NewService(application, listenAddr, log_)
	if err := application.Manager.Register(httpService); err != nil {
		log.Fatalf("register http service: %v", err)
	}

	if err := application.Manager.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log_.Infof("mashd %s listening on %s, tick interval %dms", version.Version, httpService.Addr(), tickCfg.TickIntervalMS)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Manager.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		switch strings.ToLower(filepath.Ext(trimmed)) {
		case ".json":
			return config.LoadConfig(trimmed)
		default:
			return config.LoadFile(trimmed)
		}
	}
	return config.Load()
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}
