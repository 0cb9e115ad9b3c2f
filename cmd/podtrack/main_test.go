package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/hylla/podtrack/internal/adapters/server"
	"github.com/hylla/podtrack/internal/config"
	"github.com/hylla/podtrack/internal/platform"
	"github.com/hylla/podtrack/internal/tui"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("PODTRACK_DEV_MODE", "false")
	_ = os.Unsetenv("PODTRACK_CONFIG")
	_ = os.Unsetenv("PODTRACK_DB_PATH")
	_ = os.Unsetenv(platform.HomeEnv)
	os.Exit(m.Run())
}

// fakeProgram represents fake program data used by this package.
type fakeProgram struct {
	model  tea.Model
	runErr error
}

// Run runs the requested command flow.
func (f fakeProgram) Run() (tea.Model, error) {
	return f.model, f.runErr
}

// cliHarness runs commands against one temp database.
type cliHarness struct {
	t      *testing.T
	dir    string
	dbPath string
	cfg    string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	return &cliHarness{
		t:      t,
		dir:    dir,
		dbPath: filepath.Join(dir, "podtrack.db"),
		cfg:    filepath.Join(dir, "config.toml"),
	}
}

// run executes one command and returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", h.cfg, "--db", h.dbPath}, args...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

func (h *cliHarness) writeConfig(content string) {
	h.t.Helper()
	if err := os.WriteFile(h.cfg, []byte(content), 0o644); err != nil {
		h.t.Fatalf("WriteFile() error = %v", err)
	}
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("json.Unmarshal(%q) error = %v", raw, err)
	}
	return out
}

// TestRunPathsCommand verifies path resolution output without opening stores.
func TestRunPathsCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--app", "podtrack-test", "paths"}, &out, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	for _, want := range []string{"app: podtrack-test", "dev_mode: false", "config:", "db:", "media:"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in paths output, got %q", want, out.String())
		}
	}
}

// TestRunPathsCommandFollowsConfig verifies home and config overrides reach the printed db and media paths.
func TestRunPathsCommandFollowsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv(platform.HomeEnv, home)
	root := filepath.Join(home, "podtrack-test")

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--app", "podtrack-test", "paths"}, &out, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	for _, want := range []string{
		"config: " + filepath.Join(root, "config.toml"),
		"db: " + filepath.Join(root, "podtrack-test.db"),
		"media: " + config.DefaultMediaDir(filepath.Join(root, "podtrack-test.db")),
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in paths output, got %q", want, out.String())
		}
	}

	photos := filepath.Join(home, "photos")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "config.toml"), []byte("[media]\ndir = \""+filepath.ToSlash(photos)+"\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out.Reset()
	if err := run(context.Background(), []string{"--app", "podtrack-test", "paths"}, &out, nil); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "media: "+filepath.ToSlash(photos)) {
		t.Fatalf("expected configured media dir, got %q", out.String())
	}
}

// TestRunDeliveryFlow walks a loadsheet from dispatch to report through the CLI.
func TestRunDeliveryFlow(t *testing.T) {
	h := newCLIHarness(t)
	h.writeConfig("[report]\ntimezone = \"UTC\"\ntitle = \"POD Report\"\n")

	dispatch := decodeJSON[map[string]any](t, h.mustRun("dispatch", "create", "--loadsheet", "LS-1", "--job", "J-1", "--driver", "Sam", "--panels", "A;B;C"))
	if dispatch["loadsheet_id"] != "LS-1" || dispatch["panel_count"] != float64(3) {
		t.Fatalf("unexpected dispatch %#v", dispatch)
	}
	if _, err := h.run("dispatch", "create", "--loadsheet", "LS-1"); err == nil {
		t.Fatal("expected duplicate dispatch error")
	}

	photo := filepath.Join(h.dir, "crate.png")
	if err := os.WriteFile(photo, []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	h.mustRun("event", "record", "--loadsheet", "LS-1", "--type", "leaving_depot", "--staff", "Jo", "--photo", photo)
	h.mustRun("event", "record", "--loadsheet", "LS-1", "--type", "arrived_site")
	left := decodeJSON[map[string]any](t, h.mustRun(
		"event", "record", "--loadsheet", "LS-1", "--type", "left_site",
		"--outcome", "partial", "--delivered", "A,C", "--receiver", "Kim", "--reason", "short crane",
		"--receiver-signature", photo,
	))
	if left["outcome"] != "partial" {
		t.Fatalf("unexpected left_site event %#v", left)
	}

	events := decodeJSON[[]map[string]any](t, h.mustRun("event", "list", "LS-1"))
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	media, ok := events[0]["media"].([]any)
	if !ok || len(media) != 1 {
		t.Fatalf("expected one stored photo, got %#v", events[0]["media"])
	}
	if entries, err := os.ReadDir(filepath.Join(h.dir, "media", "LS-1", "leaving_depot")); err != nil || len(entries) != 1 {
		t.Fatalf("expected photo on disk, entries=%v err=%v", entries, err)
	}

	analysis := decodeJSON[map[string]any](t, h.mustRun("analyze", "LS-1"))
	if analysis["event_count"] != float64(3) || analysis["back_charge"] != float64(0) {
		t.Fatalf("unexpected analysis %#v", analysis)
	}

	md := h.mustRun("report", "LS-1")
	for _, want := range []string{"POD Report", "LEFT SITE", "Kim"} {
		if !strings.Contains(md, want) {
			t.Fatalf("expected %q in report, got %q", want, md)
		}
	}
	styled := h.mustRun("report", "LS-1", "--pretty", "--width", "80")
	if styled == md || !strings.Contains(styled, "Kim") {
		t.Fatalf("expected terminal-styled report, got %q", styled)
	}
	reportPath := filepath.Join(h.dir, "out", "report.json")
	h.mustRun("report", "LS-1", "--format", "json", "--out", reportPath)
	if content, err := os.ReadFile(reportPath); err != nil || !json.Valid(content) {
		t.Fatalf("expected json report file, err=%v", err)
	}
	if _, err := h.run("report", "LS-1", "--format", "pdf"); err == nil {
		t.Fatal("expected unsupported format error")
	}

	firstID, _ := events[0]["id"].(string)
	updated := decodeJSON[map[string]any](t, h.mustRun("event", "update", "--id", firstID, "--staff", "Ash"))
	if updated["staff_name"] != "Ash" {
		t.Fatalf("expected staff update, got %#v", updated)
	}
	arrivedAt, _ := events[1]["created_at"].(string)
	h.mustRun("event", "delete", "--loadsheet", "LS-1", "--created-at", arrivedAt)
	if remaining := decodeJSON[[]map[string]any](t, h.mustRun("event", "list", "LS-1")); len(remaining) != 2 {
		t.Fatalf("expected 2 events after delete, got %d", len(remaining))
	}

	if _, err := h.run("event", "delete"); !errors.Is(err, errMissingSelector) {
		t.Fatalf("expected missing selector error, got %v", err)
	}
	if _, err := h.run("event", "update", "--id", firstID); err == nil {
		t.Fatal("expected empty patch error")
	}

	rows := decodeJSON[[]map[string]any](t, h.mustRun("dispatch", "list"))
	if len(rows) != 1 || rows[0]["event_count"] != float64(2) {
		t.Fatalf("unexpected dashboard rows %#v", rows)
	}
}

// TestRunBoltDriver verifies database.driver selects the bbolt store.
func TestRunBoltDriver(t *testing.T) {
	h := newCLIHarness(t)
	h.dbPath = filepath.Join(h.dir, "podtrack.bolt")
	h.writeConfig("[database]\ndriver = \"bbolt\"\n")

	h.mustRun("dispatch", "create", "--loadsheet", "LS-9", "--panel", "P1", "--panel", "P2")
	got := decodeJSON[map[string]any](t, h.mustRun("dispatch", "get", "LS-9"))
	if got["panel_count"] != float64(2) {
		t.Fatalf("unexpected dispatch %#v", got)
	}
	if _, err := os.Stat(h.dbPath); err != nil {
		t.Fatalf("expected bolt file, stat error %v", err)
	}
}

// TestRunExportImportRoundTrip verifies snapshots move data between databases.
func TestRunExportImportRoundTrip(t *testing.T) {
	src := newCLIHarness(t)
	src.mustRun("dispatch", "create", "--loadsheet", "LS-2", "--job", "J-2")
	src.mustRun("event", "record", "--loadsheet", "LS-2", "--type", "arrived_site", "--staff", "Jo")
	snapPath := filepath.Join(src.dir, "snap.json")
	src.mustRun("export", "--out", snapPath)

	dst := newCLIHarness(t)
	dst.mustRun("import", "--in", snapPath)
	got := decodeJSON[map[string]any](t, dst.mustRun("dispatch", "get", "LS-2"))
	if got["job_id"] != "J-2" {
		t.Fatalf("unexpected imported dispatch %#v", got)
	}
	if events := decodeJSON[[]map[string]any](t, dst.mustRun("event", "list", "LS-2")); len(events) != 1 {
		t.Fatalf("expected 1 imported event, got %d", len(events))
	}
	if _, err := dst.run("import"); err == nil {
		t.Fatal("expected --in to be required")
	}
}

// TestRunImportLegacy verifies CSV exports are imported.
func TestRunImportLegacy(t *testing.T) {
	h := newCLIHarness(t)
	dispatchLog := filepath.Join(h.dir, "dispatch_log.csv")
	eventsLog := filepath.Join(h.dir, "LS-77_events.csv")
	if err := os.WriteFile(dispatchLog, []byte("Timestamp,Loadsheet No,Job No,Description,Driver,Panel Count,Panel IDs\n2025-06-03 06:15:00,LS-77,J-12,Walls,Sam,2,W1;W2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(eventsLog, []byte("Timestamp,Loadsheet No,Job No,Event,AP Staff,Photos,Delivery Outcome,Delivered Panels,Receiver Signature,Failure Reason\n2025-06-03 06:30:00,LS-77,J-12,leaving_ap,Jo,,,,,\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out := h.mustRun("import-legacy", "--dispatch-log", dispatchLog, "--events", eventsLog)
	if !strings.Contains(out, "imported 1 dispatches, 1 events") {
		t.Fatalf("unexpected import output %q", out)
	}
	if _, err := h.run("import-legacy"); err == nil {
		t.Fatal("expected one of --dispatch-log/--events to be required")
	}
}

// TestRunServeUsesConfig verifies serve wiring from config defaults and flags.
func TestRunServeUsesConfig(t *testing.T) {
	h := newCLIHarness(t)
	h.writeConfig("[server]\nbind = \"127.0.0.1:9999\"\n")

	var (
		gotCfg  server.Config
		gotDeps server.Dependencies
	)
	prev := serveCommandRunner
	serveCommandRunner = func(ctx context.Context, cfg server.Config, deps server.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		return deps.Ready(ctx)
	}
	t.Cleanup(func() { serveCommandRunner = prev })

	h.mustRun("serve", "--mcp-endpoint", "/tools")
	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.APIEndpoint != "/api/v1" || gotCfg.MCPEndpoint != "/tools" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotCfg.ServerName != "podtrack" || gotDeps.Delivery == nil || gotDeps.Logger == nil {
		t.Fatalf("unexpected serve deps cfg=%#v deps=%#v", gotCfg, gotDeps)
	}
}

// TestRunDashboardUsesProgramFactory verifies the bare command launches the TUI.
func TestRunDashboardUsesProgramFactory(t *testing.T) {
	h := newCLIHarness(t)
	var launched tea.Model
	prev := programFactory
	programFactory = func(m tea.Model) program {
		launched = m
		return fakeProgram{model: m}
	}
	t.Cleanup(func() { programFactory = prev })

	h.mustRun()
	if _, ok := launched.(tui.Model); !ok {
		t.Fatalf("expected tui.Model, got %T", launched)
	}

	programFactory = func(m tea.Model) program {
		return fakeProgram{runErr: errors.New("no tty")}
	}
	if _, err := h.run("dashboard"); err == nil || !strings.Contains(err.Error(), "no tty") {
		t.Fatalf("expected program error, got %v", err)
	}
}

// TestRunRejectsInvalidConfig verifies config validation failures surface.
func TestRunRejectsInvalidConfig(t *testing.T) {
	h := newCLIHarness(t)
	h.writeConfig("[logging]\nlevel = \"loud\"\n")
	if _, err := h.run("dispatch", "list"); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := h.run("bogus"); err == nil {
		t.Fatal("expected unknown command error")
	}
}

// TestFileDataURL verifies image files become base64 data URLs.
func TestFileDataURL(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "sig.PNG")
	if err := os.WriteFile(png, []byte("img"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := fileDataURL(png)
	if err != nil {
		t.Fatalf("fileDataURL() error = %v", err)
	}
	if want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img")); got != want {
		t.Fatalf("fileDataURL() = %q, want %q", got, want)
	}

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := fileDataURL(txt); err == nil {
		t.Fatal("expected non-image rejection")
	}
	if got, err := optionalFileDataURL(" "); err != nil || got != "" {
		t.Fatalf("optionalFileDataURL() = %q, %v", got, err)
	}
}

// TestWorkspaceRootFromUsesNearestMarker verifies workspace-root resolution behavior.
func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "podtrack")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	got := workspaceRootFrom(nested)
	if filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

// TestDevLogFilePathUsesAbsoluteDir verifies dated file naming under an absolute dir.
func TestDevLogFilePathUsesAbsoluteDir(t *testing.T) {
	dir := t.TempDir()
	got, err := devLogFilePath(dir, "pod track/dev", time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	if want := filepath.Join(dir, "pod-track-dev-20260222.log"); got != want {
		t.Fatalf("devLogFilePath() = %q, want %q", got, want)
	}
	if sanitizeLogFileStem("  ") != "podtrack" {
		t.Fatal("expected default stem for blank app name")
	}
}

// TestRuntimeLoggerWritesDevFile verifies dev mode adds a logfmt file sink.
func TestRuntimeLoggerWritesDevFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default("/tmp/podtrack.db").Logging
	cfg.DevFile.Dir = dir

	var console bytes.Buffer
	logger, err := newRuntimeLogger(&console, "podtrack", true, cfg, func() time.Time {
		return time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.Info("dispatch created", "loadsheet_id", "LS-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logger.DevLogPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "loadsheet_id=LS-1") {
		t.Fatalf("expected logfmt entry, got %q", content)
	}
	if !strings.Contains(console.String(), "dispatch created") {
		t.Fatalf("expected console entry, got %q", console.String())
	}
}

// TestRuntimeLoggerCanMuteConsoleSink verifies console output can be suppressed while other sinks remain active.
func TestRuntimeLoggerCanMuteConsoleSink(t *testing.T) {
	var console bytes.Buffer
	cfg := config.Default("/tmp/podtrack.db").Logging

	logger, err := newRuntimeLogger(&console, "podtrack", false, cfg, nil)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}

	logger.Info("before")
	logger.SetConsoleEnabled(false)
	logger.Info("during")
	logger.SetConsoleEnabled(true)
	logger.Info("after")

	out := console.String()
	if !strings.Contains(out, "before") || strings.Contains(out, "during") || !strings.Contains(out, "after") {
		t.Fatalf("unexpected console output %q", out)
	}
	if _, err := newRuntimeLogger(&console, "podtrack", false, config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatal("expected invalid level error")
	}
}
