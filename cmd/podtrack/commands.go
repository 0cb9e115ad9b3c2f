package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/podtrack/internal/adapters/server"
	servercommon "github.com/hylla/podtrack/internal/adapters/server/common"
	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/tui"
)

// pathsCommand prints the effective config, database, and media paths without opening any store.
// Database and media reflect config file and env overrides.
func (c *cli) pathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and media paths",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			paths, err := c.resolvePaths()
			if err != nil {
				return err
			}
			configPath, cfg, err := c.loadConfig(paths)
			if err != nil {
				return err
			}
			out := c.stdout
			_, _ = fmt.Fprintf(out, "app: %s\n", c.opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", c.opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", cfg.Database.Path)
			_, _ = fmt.Fprintf(out, "media: %s\n", cfg.Media.Dir)
			return nil
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	var httpBind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, MCP tools, and metrics",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint (default from config)")
	cmd.RunE = c.withRuntime("serve", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		cfg := server.Config{
			HTTPBind:      firstNonEmpty(httpBind, env.cfg.Server.Bind),
			APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
			MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
			ServerName:    env.appName,
			ServerVersion: version,
		}
		env.logger.Info("serving", "http", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
		return serveCommandRunner(ctx, cfg, server.Dependencies{
			Delivery: env.delivery,
			Ready:    env.repo.Ping,
			Logger:   env.logger,
		})
	})
	return cmd
}

func (c *cli) dashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive dispatch dashboard",
		Args:  cobra.NoArgs,
		RunE:  c.withRuntime("dashboard", true, c.runDashboard),
	}
}

// runDashboard runs the TUI program loop.
func (c *cli) runDashboard(_ context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
	m := tui.NewModel(
		env.svc,
		tui.WithReportRenderer(env.renderer),
		tui.WithLocation(env.location),
	)
	env.logger.Info("starting tui program loop")
	if _, err := programFactory(m).Run(); err != nil {
		return fmt.Errorf("run tui program: %w", err)
	}
	return nil
}

func (c *cli) dispatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Create and inspect loadsheet dispatches",
	}

	var in servercommon.CreateDispatchRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Record a new dispatch",
		Args:  cobra.NoArgs,
	}
	create.Flags().StringVar(&in.LoadsheetID, "loadsheet", "", "loadsheet id")
	create.Flags().StringVar(&in.JobID, "job", "", "job id")
	create.Flags().StringVar(&in.Description, "description", "", "load description")
	create.Flags().StringVar(&in.Driver, "driver", "", "driver name")
	create.Flags().StringSliceVar(&in.PanelIDs, "panel", nil, "panel id (repeatable)")
	create.Flags().StringVar(&in.Panels, "panels", "", "panel manifest text (newline, comma, or ';' separated)")
	_ = create.MarkFlagRequired("loadsheet")
	create.RunE = c.withRuntime("dispatch create", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		d, err := env.delivery.CreateDispatch(ctx, in)
		if err != nil {
			return err
		}
		return writeJSON(c.stdout, d)
	})

	get := &cobra.Command{
		Use:   "get <loadsheet>",
		Short: "Show one dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime("dispatch get", false, func(ctx context.Context, _ *cobra.Command, args []string, env *runtimeEnv) error {
			d, err := env.delivery.GetDispatch(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(c.stdout, d)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every loadsheet with its events and analysis",
		Args:  cobra.NoArgs,
		RunE: c.withRuntime("dispatch list", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
			rows, err := env.delivery.Dashboard(ctx)
			if err != nil {
				return err
			}
			return writeJSON(c.stdout, rows)
		}),
	}

	cmd.AddCommand(create, get, list)
	return cmd
}

func (c *cli) eventCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Record, list, correct, and delete delivery events",
	}
	cmd.AddCommand(c.eventRecordCommand(), c.eventListCommand(), c.eventUpdateCommand(), c.eventDeleteCommand())
	return cmd
}

func (c *cli) eventRecordCommand() *cobra.Command {
	var (
		in                servercommon.RecordEventRequest
		photos            []string
		apSignature       string
		receiverSignature string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one lifecycle event with optional photos and signatures",
		Args:  cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.StringVar(&in.LoadsheetID, "loadsheet", "", "loadsheet id")
	flags.StringVar(&in.JobID, "job", "", "job id")
	flags.StringVar(&in.EventType, "type", "", "event type: leaving_depot, arrived_site, left_site")
	flags.StringVar(&in.StaffName, "staff", "", "staff name")
	flags.StringVar(&in.ReceiverName, "receiver", "", "receiver name")
	flags.StringVar(&in.FailureReason, "reason", "", "failure reason for partial or failed deliveries")
	flags.StringVar(&in.Outcome, "outcome", "", "delivery outcome: full, partial, failed")
	flags.StringSliceVar(&in.DeliveredPanelIDs, "delivered", nil, "delivered panel id (repeatable)")
	flags.StringArrayVar(&photos, "photo", nil, "photo image file (repeatable)")
	flags.StringVar(&apSignature, "ap-signature", "", "staff signature image file")
	flags.StringVar(&receiverSignature, "receiver-signature", "", "receiver signature image file")
	_ = cmd.MarkFlagRequired("loadsheet")
	_ = cmd.MarkFlagRequired("type")
	cmd.RunE = c.withRuntime("event record", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		for _, path := range photos {
			dataURL, err := fileDataURL(path)
			if err != nil {
				return err
			}
			in.Photos = append(in.Photos, dataURL)
		}
		var err error
		if in.APSignature, err = optionalFileDataURL(apSignature); err != nil {
			return err
		}
		if in.ReceiverSignature, err = optionalFileDataURL(receiverSignature); err != nil {
			return err
		}
		e, err := env.delivery.RecordEvent(ctx, in)
		if err != nil {
			return err
		}
		return writeJSON(c.stdout, e)
	})
	return cmd
}

func (c *cli) eventListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <loadsheet>",
		Short: "List events for one loadsheet in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime("event list", false, func(ctx context.Context, _ *cobra.Command, args []string, env *runtimeEnv) error {
			events, err := env.delivery.ListEvents(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(c.stdout, events)
		}),
	}
}

// bindSelectorFlags registers the flags that address one event.
func bindSelectorFlags(cmd *cobra.Command, sel *servercommon.EventSelector) {
	cmd.Flags().StringVar(&sel.EventID, "id", "", "event id")
	cmd.Flags().StringVar(&sel.LoadsheetID, "loadsheet", "", "loadsheet id (with --created-at)")
	cmd.Flags().StringVar(&sel.CreatedAt, "created-at", "", "event timestamp, RFC3339 (with --loadsheet)")
}

func validateSelector(sel servercommon.EventSelector) error {
	if strings.TrimSpace(sel.EventID) != "" {
		return nil
	}
	if strings.TrimSpace(sel.LoadsheetID) == "" || strings.TrimSpace(sel.CreatedAt) == "" {
		return errMissingSelector
	}
	return nil
}

func (c *cli) eventUpdateCommand() *cobra.Command {
	var (
		sel                                         servercommon.EventSelector
		staff, outcome, receiver, reason, createdAt string
		delivered                                   []string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Correct fields of one event",
		Args:  cobra.NoArgs,
	}
	bindSelectorFlags(cmd, &sel)
	flags := cmd.Flags()
	flags.StringVar(&staff, "staff", "", "new staff name")
	flags.StringVar(&outcome, "outcome", "", "new delivery outcome")
	flags.StringVar(&receiver, "receiver", "", "new receiver name")
	flags.StringVar(&reason, "reason", "", "new failure reason")
	flags.StringSliceVar(&delivered, "delivered", nil, "replacement delivered panel ids")
	flags.StringVar(&createdAt, "new-created-at", "", "replacement event timestamp, RFC3339")
	cmd.RunE = c.withRuntime("event update", false, func(ctx context.Context, cmd *cobra.Command, _ []string, env *runtimeEnv) error {
		if err := validateSelector(sel); err != nil {
			return err
		}
		var patch servercommon.EventPatch
		changed := cmd.Flags().Changed
		if changed("staff") {
			patch.StaffName = &staff
		}
		if changed("outcome") {
			patch.Outcome = &outcome
		}
		if changed("receiver") {
			patch.ReceiverName = &receiver
		}
		if changed("reason") {
			patch.FailureReason = &reason
		}
		if changed("delivered") {
			patch.DeliveredPanelIDs = &delivered
		}
		if changed("new-created-at") {
			patch.CreatedAt = &createdAt
		}
		e, err := env.delivery.UpdateEvent(ctx, servercommon.UpdateEventRequest{Selector: sel, Patch: patch})
		if err != nil {
			return err
		}
		return writeJSON(c.stdout, e)
	})
	return cmd
}

func (c *cli) eventDeleteCommand() *cobra.Command {
	var sel servercommon.EventSelector
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one event",
		Args:  cobra.NoArgs,
	}
	bindSelectorFlags(cmd, &sel)
	cmd.RunE = c.withRuntime("event delete", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		if err := validateSelector(sel); err != nil {
			return err
		}
		e, err := env.delivery.DeleteEvent(ctx, sel)
		if err != nil {
			return err
		}
		return writeJSON(c.stdout, e)
	})
	return cmd
}

func (c *cli) analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <loadsheet>",
		Short: "Derive travel time, on-site time, and back charge",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime("analyze", false, func(ctx context.Context, _ *cobra.Command, args []string, env *runtimeEnv) error {
			a, err := env.delivery.AnalyzeLoadsheet(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(c.stdout, a)
		}),
	}
}

func (c *cli) reportCommand() *cobra.Command {
	var (
		format  string
		outPath string
		pretty  bool
		width   int
	)
	cmd := &cobra.Command{
		Use:   "report <loadsheet>",
		Short: "Compose the delivery report for one loadsheet",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown or json")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "style markdown for the terminal")
	cmd.Flags().IntVar(&width, "width", 100, "wrap width for --pretty")
	cmd.RunE = c.withRuntime("report", false, func(ctx context.Context, _ *cobra.Command, args []string, env *runtimeEnv) error {
		var buf bytes.Buffer
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "json":
			m, err := env.delivery.ComposeReport(ctx, args[0])
			if err != nil {
				return err
			}
			if err := writeJSON(&buf, m); err != nil {
				return err
			}
		case "markdown", "md", "":
			if err := env.delivery.RenderReportMarkdown(ctx, args[0], &buf); err != nil {
				return err
			}
			if pretty {
				styled := tui.RenderMarkdown(buf.String(), width)
				buf.Reset()
				buf.WriteString(styled + "\n")
			}
		default:
			return fmt.Errorf("unsupported report format %q", format)
		}
		return writeOutput(c.stdout, outPath, buf.Bytes())
	})
	return cmd
}

func (c *cli) exportCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every dispatch and event as a JSON snapshot",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.RunE = c.withRuntime("export", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		snap, err := env.svc.ExportSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
		var buf bytes.Buffer
		if err := writeJSON(&buf, snap); err != nil {
			return fmt.Errorf("encode snapshot json: %w", err)
		}
		return writeOutput(c.stdout, outPath, buf.Bytes())
	})
	return cmd
}

func (c *cli) importCommand() *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	_ = cmd.MarkFlagRequired("in")
	cmd.RunE = c.withRuntime("import", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		content, err := os.ReadFile(inPath)
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		var snap app.Snapshot
		if err := json.Unmarshal(content, &snap); err != nil {
			return fmt.Errorf("decode snapshot json: %w", err)
		}
		if err := env.svc.ImportSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		return nil
	})
	return cmd
}

func (c *cli) importLegacyCommand() *cobra.Command {
	var (
		dispatchLog string
		eventLogs   []string
	)
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import dispatch_log.csv and <loadsheet>_events.csv exports",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&dispatchLog, "dispatch-log", "", "dispatch_log.csv path")
	cmd.Flags().StringArrayVar(&eventLogs, "events", nil, "<loadsheet>_events.csv path (repeatable)")
	cmd.MarkFlagsOneRequired("dispatch-log", "events")
	cmd.RunE = c.withRuntime("import-legacy", false, func(ctx context.Context, _ *cobra.Command, _ []string, env *runtimeEnv) error {
		var total app.LegacyImportResult
		if dispatchLog != "" {
			res, err := importLegacyFile(dispatchLog, func(r io.Reader) (app.LegacyImportResult, error) {
				return env.svc.ImportLegacyDispatchLog(ctx, r, env.location)
			})
			if err != nil {
				return err
			}
			total = addLegacyResults(total, res)
		}
		for _, path := range eventLogs {
			res, err := importLegacyFile(path, func(r io.Reader) (app.LegacyImportResult, error) {
				return env.svc.ImportLegacyEventLog(ctx, r, env.location)
			})
			if err != nil {
				return err
			}
			total = addLegacyResults(total, res)
		}
		_, _ = fmt.Fprintf(c.stdout, "imported %d dispatches, %d events (%d skipped)\n", total.Dispatches, total.Events, total.Skipped)
		return nil
	})
	return cmd
}

func importLegacyFile(path string, fn func(io.Reader) (app.LegacyImportResult, error)) (app.LegacyImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return app.LegacyImportResult{}, fmt.Errorf("open legacy file: %w", err)
	}
	defer f.Close()
	res, err := fn(f)
	if err != nil {
		return app.LegacyImportResult{}, fmt.Errorf("import %s: %w", filepath.Base(path), err)
	}
	return res, nil
}

func addLegacyResults(a, b app.LegacyImportResult) app.LegacyImportResult {
	return app.LegacyImportResult{
		Dispatches: a.Dispatches + b.Dispatches,
		Events:     a.Events + b.Events,
		Skipped:    a.Skipped + b.Skipped,
	}
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')
	_, err = w.Write(encoded)
	return err
}

// writeOutput writes content to stdout for "-" or to a file, creating parent dirs.
func writeOutput(stdout io.Writer, outPath string, content []byte) error {
	if outPath == "-" || outPath == "" {
		if _, err := stdout.Write(content); err != nil {
			return fmt.Errorf("write to stdout: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(outPath, content, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// fileDataURL reads an image file into a base64 data URL.
func fileDataURL(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %q: %w", path, err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("image %q: unsupported file type", path)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(content), nil
}

func optionalFileDataURL(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	return fileDataURL(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
