package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	serveradapter "github.com/evanschultz/trackflow/internal/adapters/server"
	"github.com/evanschultz/trackflow/internal/adapters/storage/objectstore"
	"github.com/evanschultz/trackflow/internal/adapters/storage/postgres"
	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlite"
	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlstore"
	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/config"
	"github.com/evanschultz/trackflow/internal/domain"
	"github.com/evanschultz/trackflow/internal/platform"
)

// environment is everything one command needs once configuration is resolved.
type environment struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
	store      *sqlstore.Store
	files      *objectstore.MinioStore
	svc        *app.Service
}

// loadConfig resolves config and database paths, honouring flags first, then
// TRACKFLOW_CONFIG and TRACKFLOW_DB_PATH, then platform defaults.
func (o *rootOptions) loadConfig() (platform.Paths, string, config.Config, error) {
	paths, err := o.paths()
	if err != nil {
		return platform.Paths{}, "", config.Config{}, err
	}
	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("TRACKFLOW_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(o.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("TRACKFLOW_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return platform.Paths{}, "", config.Config{}, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = dbPath
	}
	return paths, configPath, cfg, nil
}

// open resolves config, builds the logger and opens every backend.
// The console sink is muted for the terminal board so logs do not tear the screen.
func (o *rootOptions) open(ctx context.Context, command string, quietConsole bool) (*environment, error) {
	paths, configPath, cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, paths.LogPath)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if quietConsole {
		logger.SetConsoleEnabled(false)
	}
	env := &environment{paths: paths, configPath: configPath, cfg: cfg, logger: logger}

	logger.Info("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	env.store = store

	stores := store.Stores(nil)
	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		files, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Error("attachment storage unavailable", "endpoint", cfg.Storage.Endpoint, "err", err)
			env.Close()
			return nil, fmt.Errorf("open attachment storage: %w", err)
		}
		env.files = files
		stores = store.Stores(files)
		logger.Info("attachment storage ready", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	} else {
		logger.Debug("attachment storage disabled", "reason", "storage.endpoint is empty")
	}

	env.svc = app.NewService(stores, nil, nil, app.ServiceConfig{
		StageTemplates: stageTemplates(cfg.Boards),
		Logger:         logger.Service(),
		GestureTimeout: cfg.Boards.GestureTimeout.Std(),
	})
	logger.Debug("application service initialized")
	return env, nil
}

// Close flushes queued writes and releases every backend.
func (e *environment) Close() {
	if e == nil {
		return
	}
	if e.svc != nil {
		if err := e.svc.Flush(context.Background()); err != nil {
			e.logger.Warn("final flush failed", "pending", e.svc.Pending(), "err", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("database close failed", "err", err)
		}
	}
	_ = e.logger.Close()
}

// readiness lists the backends probed by /readyz.
func (e *environment) readiness() []serveradapter.Pinger {
	ready := []serveradapter.Pinger{e.store}
	if e.files != nil {
		ready = append(ready, e.files)
	}
	return ready
}

// openStore opens the configured record store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *runtimeLogger) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig(cfg.URL)
		if cfg.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.MaxIdleConns >= 0 && cfg.MaxIdleConns <= pgCfg.MaxOpenConns {
			pgCfg.MaxIdleConns = cfg.MaxIdleConns
		}
		if lifetime := cfg.ConnMaxLifetime.Std(); lifetime > 0 {
			pgCfg.ConnMaxLifetime = lifetime
		}
		logger.Info("opening postgres repository")
		store, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			logger.Error("postgres open failed", "err", err)
			return nil, fmt.Errorf("open postgres repository: %w", err)
		}
		logger.Info("postgres repository ready", "migrations", "ensured")
		return store, nil
	case config.DriverSQLite, "":
		logger.Info("opening sqlite repository", "db_path", cfg.Path)
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", cfg.Path, "err", err)
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		logger.Info("sqlite repository ready", "db_path", cfg.Path, "migrations", "ensured")
		return store, nil
	default:
		return nil, errors.New("unsupported database driver: " + string(cfg.Driver))
	}
}

// stageTemplates maps configured stages onto service templates.
func stageTemplates(boards config.BoardsConfig) map[domain.Kind][]app.StageTemplate {
	out := map[domain.Kind][]app.StageTemplate{}
	for kind, board := range map[domain.Kind]config.BoardConfig{
		domain.KindKanban: boards.Kanban,
		domain.KindSales:  boards.Sales,
		domain.KindJobs:   boards.Jobs,
	} {
		if len(board.Stages) == 0 {
			continue
		}
		tpls := make([]app.StageTemplate, 0, len(board.Stages))
		for _, stage := range board.Stages {
			tpls = append(tpls, app.StageTemplate{Title: stage.Title, Color: stage.Color})
		}
		out[kind] = tpls
	}
	return out
}
