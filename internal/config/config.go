package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/podtrack/internal/domain"
)

// Driver names one supported event/dispatch store.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverBolt   Driver = "bbolt"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Media    MediaConfig    `toml:"media"`
	Server   ServerConfig   `toml:"server"`
	Analysis AnalysisConfig `toml:"analysis"`
	Report   ReportConfig   `toml:"report"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Path   string `toml:"path"`
	Driver Driver `toml:"driver"`
}

type MediaConfig struct {
	Dir string `toml:"dir"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type AnalysisConfig struct {
	FreeAllowanceMinutes int     `toml:"free_allowance_minutes"`
	HourlyRate           float64 `toml:"hourly_rate"`
}

type ReportConfig struct {
	Timezone  string `toml:"timezone"`
	PageLines int    `toml:"page_lines"`
	Title     string `toml:"title"`
	Footer    string `toml:"footer"`
}

// LoggingConfig controls runtime log level and the optional dev-mode file sink.
type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DefaultMediaDir places media next to the database file.
func DefaultMediaDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "media")
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path:   dbPath,
			Driver: DriverSQLite,
		},
		Media: MediaConfig{
			Dir: DefaultMediaDir(dbPath),
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:5050",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Analysis: AnalysisConfig{
			FreeAllowanceMinutes: int(domain.DefaultFreeAllowance / time.Minute),
			HourlyRate:           domain.DefaultHourlyRate,
		},
		Report: ReportConfig{
			Timezone:  "Australia/Melbourne",
			PageLines: 60,
			Title:     "Delivery Report",
			Footer:    "Generated by podtrack",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".podtrack/log",
			},
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
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverBolt:
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Media.Dir) == "" {
		return errors.New("media.dir is required")
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	if c.Analysis.FreeAllowanceMinutes < 0 {
		return errors.New("analysis.free_allowance_minutes must be >= 0")
	}
	if c.Analysis.HourlyRate < 0 || math.IsNaN(c.Analysis.HourlyRate) || math.IsInf(c.Analysis.HourlyRate, 0) {
		return fmt.Errorf("invalid analysis.hourly_rate: %v", c.Analysis.HourlyRate)
	}

	if _, err := c.Report.Location(); err != nil {
		return err
	}
	if c.Report.PageLines < 0 {
		return errors.New("report.page_lines must be >= 0")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

// ChargePolicy converts the analysis section into the domain charge policy.
func (c AnalysisConfig) ChargePolicy() domain.ChargePolicy {
	return domain.ChargePolicy{
		FreeAllowance: time.Duration(c.FreeAllowanceMinutes) * time.Minute,
		HourlyRate:    c.HourlyRate,
	}
}

// Location resolves the report timezone; empty means UTC.
func (c ReportConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid report.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
