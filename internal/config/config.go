package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Storage  StorageConfig  `toml:"storage"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Boards   BoardsConfig   `toml:"boards"`
	TUI      TUIConfig      `toml:"tui"`
}

type DatabaseConfig struct {
	Driver          Driver   `toml:"driver"`
	Path            string   `toml:"path"`
	URL             string   `toml:"url"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	FlushInterval   Duration `toml:"flush_interval"`
}

// StorageConfig points attachments at an S3-compatible bucket. Attachments are
// disabled while Endpoint is empty.
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

type ServerConfig struct {
	Bind         string   `toml:"bind"`
	APIEndpoint  string   `toml:"api_endpoint"`
	MCPEndpoint  string   `toml:"mcp_endpoint"`
	ShutdownWait Duration `toml:"shutdown_wait"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	DevFile bool   `toml:"dev_file"`
}

type BoardsConfig struct {
	// GestureTimeout cancels a drag gesture left idle this long.
	GestureTimeout Duration    `toml:"gesture_timeout"`
	Kanban         BoardConfig `toml:"kanban"`
	Sales          BoardConfig `toml:"sales"`
	Jobs           BoardConfig `toml:"jobs"`
}

type BoardConfig struct {
	Stages []StageConfig `toml:"stages"`
}

type StageConfig struct {
	Title string `toml:"title"`
	Color string `toml:"color"`
}

type TUIConfig struct {
	DefaultBoard string    `toml:"default_board"`
	Keys         KeyConfig `toml:"keys"`
}

// KeyConfig overrides terminal board bindings. Blank values keep the built-in key.
type KeyConfig struct {
	Grab        string `toml:"grab"`
	Drop        string `toml:"drop"`
	Detail      string `toml:"detail"`
	CopyID      string `toml:"copy_id"`
	SwitchBoard string `toml:"switch_board"`
}

// Duration decodes TOML strings such as "30s" into a time.Duration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            dbPath,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			FlushInterval:   Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Region: "us-east-1",
			Bucket: "trackflow-attachments",
		},
		Server: ServerConfig{
			Bind:         "127.0.0.1:5437",
			APIEndpoint:  "/api/v1",
			MCPEndpoint:  "/mcp",
			ShutdownWait: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Boards: BoardsConfig{
			GestureTimeout: Duration(2 * time.Minute),
		},
		TUI: TUIConfig{
			DefaultBoard: "kanban",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database url is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 1 {
		return errors.New("database.max_open_conns must be >= 1")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("database.max_idle_conns must be between 0 and max_open_conns")
	}
	if c.Database.FlushInterval < 0 {
		return errors.New("database.flush_interval must be >= 0")
	}

	if strings.TrimSpace(c.Storage.Endpoint) != "" {
		if strings.Contains(c.Storage.Endpoint, "://") {
			return fmt.Errorf("storage.endpoint must not include scheme: %q", c.Storage.Endpoint)
		}
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket is required when storage.endpoint is set")
		}
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}
	for name, endpoint := range map[string]string{"server.api_endpoint": c.Server.APIEndpoint, "server.mcp_endpoint": c.Server.MCPEndpoint} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	switch strings.TrimSpace(strings.ToLower(c.TUI.DefaultBoard)) {
	case "", "kanban", "sales", "jobs":
	default:
		return fmt.Errorf("invalid tui.default_board: %q", c.TUI.DefaultBoard)
	}

	if c.Boards.GestureTimeout < 0 {
		return errors.New("invalid boards.gesture_timeout: must be >= 0")
	}
	for name, board := range map[string]BoardConfig{"kanban": c.Boards.Kanban, "sales": c.Boards.Sales, "jobs": c.Boards.Jobs} {
		seen := []string{}
		for idx, stage := range board.Stages {
			title := strings.TrimSpace(stage.Title)
			if title == "" {
				return fmt.Errorf("boards.%s.stages[%d].title is required", name, idx)
			}
			key := strings.ToLower(title)
			if slices.Contains(seen, key) {
				return fmt.Errorf("boards.%s.stages[%d].title is duplicated: %s", name, idx, title)
			}
			seen = append(seen, key)
		}
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
