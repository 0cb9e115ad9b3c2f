package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hylla/podtrack/internal/adapters/media/localfs"
	"github.com/hylla/podtrack/internal/adapters/render/markdown"
	"github.com/hylla/podtrack/internal/adapters/server"
	servercommon "github.com/hylla/podtrack/internal/adapters/server/common"
	"github.com/hylla/podtrack/internal/adapters/storage/bbolt"
	"github.com/hylla/podtrack/internal/adapters/storage/sqlite"
	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/config"
	"github.com/hylla/podtrack/internal/platform"
	"github.com/hylla/podtrack/internal/report"
)

// version stores a package-level helper value.
var version = "dev"

// program represents program data used by this package.
type program interface {
	Run() (tea.Model, error)
}

// programFactory stores a package-level helper value.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg server.Config, deps server.Dependencies) error {
	return server.Run(ctx, cfg, deps)
}

func main() {
	_ = godotenv.Load()
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(context.Background(), root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}

// globalOptions holds persistent root flags.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// cli binds the command tree to its output streams.
type cli struct {
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer
}

// newRootCommand builds the podtrack command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	c := &cli{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("PODTRACK_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := "podtrack"
	if envApp := strings.TrimSpace(os.Getenv("PODTRACK_APP_NAME")); envApp != "" {
		appName = envApp
	}

	root := &cobra.Command{
		Use:          "podtrack",
		Short:        "Track loadsheet dispatches and proof-of-delivery events",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         c.withRuntime("dashboard", true, c.runDashboard),
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&c.opts.dbPath, "db", "", "path to the database file")
	flags.StringVar(&c.opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&c.opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		c.pathsCommand(),
		c.serveCommand(),
		c.dashboardCommand(),
		c.dispatchCommand(),
		c.eventCommand(),
		c.analyzeCommand(),
		c.reportCommand(),
		c.exportCommand(),
		c.importCommand(),
		c.importLegacyCommand(),
	)
	return root
}

// repository is one opened event/dispatch store.
type repository interface {
	app.Repository
	Ping(context.Context) error
	Close() error
}

// runtimeEnv holds the opened stores and services for one command.
type runtimeEnv struct {
	appName    string
	configPath string
	paths      platform.Paths
	cfg        config.Config
	location   *time.Location
	logger     *runtimeLogger
	repo       repository
	media      *localfs.Store
	renderer   *markdown.Renderer
	svc        *app.Service
	delivery   *servercommon.AppServiceAdapter
}

// resolvePaths resolves per-OS paths for the active app name.
func (c *cli) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: c.opts.appName,
		DevMode: c.opts.devMode,
	})
}

// loadConfig resolves config and db path overrides.
func (c *cli) loadConfig(paths platform.Paths) (string, config.Config, error) {
	configPath := strings.TrimSpace(c.opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("PODTRACK_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(c.opts.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("PODTRACK_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return "", config.Config{}, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	return configPath, cfg, nil
}

// openRuntime loads config, opens the configured stores, and builds the service.
func (c *cli) openRuntime(command string, quietConsole bool) (*runtimeEnv, error) {
	paths, err := c.resolvePaths()
	if err != nil {
		return nil, err
	}
	configPath, cfg, err := c.loadConfig(paths)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Report.Location()
	if err != nil {
		return nil, err
	}

	logger, err := newRuntimeLogger(c.stderr, c.opts.appName, c.opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if quietConsole {
		// The TUI owns the terminal; logs go to the dev-file sink only.
		logger.SetConsoleEnabled(false)
	}
	env := &runtimeEnv{
		appName:    c.opts.appName,
		configPath: configPath,
		paths:      paths,
		cfg:        cfg,
		location:   loc,
		logger:     logger,
	}

	logger.Info("startup configuration resolved", "app", c.opts.appName, "dev_mode", c.opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	logger.Info("configuration loaded", "config_path", configPath, "db_path", cfg.Database.Path, "driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	repo, err := openRepository(cfg.Database)
	if err != nil {
		logger.Error("repository open failed", "driver", cfg.Database.Driver, "db_path", cfg.Database.Path, "err", err)
		env.Close()
		return nil, err
	}
	env.repo = repo
	logger.Info("repository ready", "driver", cfg.Database.Driver, "db_path", cfg.Database.Path)

	media, err := localfs.New(cfg.Media.Dir)
	if err != nil {
		logger.Error("media store open failed", "media_dir", cfg.Media.Dir, "err", err)
		env.Close()
		return nil, fmt.Errorf("open media store: %w", err)
	}
	env.media = media

	env.renderer = markdown.New(cfg.Report.PageLines, markdown.APIMediaURL(cfg.Server.APIEndpoint))
	env.svc = app.NewService(repo, media, uuid.NewString, time.Now, app.ServiceConfig{
		ChargePolicy: cfg.Analysis.ChargePolicy(),
		Report: report.Options{
			Title:    cfg.Report.Title,
			Footer:   cfg.Report.Footer,
			Location: loc,
		},
		Logger: logger,
	})
	env.delivery = servercommon.NewAppServiceAdapter(env.svc, env.renderer)
	logger.Debug("application service initialized", "free_allowance_minutes", cfg.Analysis.FreeAllowanceMinutes, "hourly_rate", cfg.Analysis.HourlyRate)
	return env, nil
}

// openRepository opens the store selected by database.driver.
func openRepository(cfg config.DatabaseConfig) (repository, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		store, err := bbolt.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open bbolt store: %w", err)
		}
		return store, nil
	case config.DriverSQLite, "":
		repo, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Close releases the store and log sink.
func (e *runtimeEnv) Close() {
	if e == nil {
		return
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("repository close failed", "db_path", e.cfg.Database.Path, "err", err)
		}
	}
	if err := e.logger.Close(); err != nil && e.logger.shouldLogToSink(e.logger.consoleSink) {
		e.logger.Warn("close runtime log sink failed", "err", err)
	}
}

// commandFunc runs one command against an opened runtime.
type commandFunc func(ctx context.Context, cmd *cobra.Command, args []string, env *runtimeEnv) error

// withRuntime wraps fn with runtime setup, teardown, and command-flow logging.
func (c *cli) withRuntime(name string, quietConsole bool, fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := c.openRuntime(name, quietConsole)
		if err != nil {
			return err
		}
		defer env.Close()

		env.logger.Info("command flow start", "command", name)
		if err := fn(cmd.Context(), cmd, args, env); err != nil {
			env.logger.Error("command flow failed", "command", name, "err", err)
			return fmt.Errorf("run %s command: %w", name, err)
		}
		env.logger.Info("command flow complete", "command", name)
		return nil
	}
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// errMissingSelector is returned when an event command names neither an id nor a key.
var errMissingSelector = errors.New("either --id or both --loadsheet and --created-at are required")
