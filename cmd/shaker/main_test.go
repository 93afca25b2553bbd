package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/camera"
	"github.com/mikesmithlab/shaker/internal/hw/shaker"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/store/trialdb"
	"github.com/mikesmithlab/shaker/internal/store/triallog"
	"github.com/mikesmithlab/shaker/internal/web"
)

// ---------- levelParams ----------

func newTestLevelConfig() config.LevelConfig {
	return config.LevelConfig{
		InitialBatchSize: 10,
		CallBudget:       50,
		Tolerance:        2,
		MaxBatchSize:     100,
	}
}

func TestLevelParams_ZeroUsesConfig(t *testing.T) {
	p := levelParams(newTestLevelConfig(), web.LevelRequest{})
	if p.InitialBatchSize != 10 || p.CallBudget != 50 || p.Tolerance != 2 || p.MaxBatchSize != 100 {
		t.Errorf("params = %+v, want config defaults", p)
	}
}

func TestLevelParams_NonZeroOverrides(t *testing.T) {
	p := levelParams(newTestLevelConfig(), web.LevelRequest{
		InitialBatchSize: 3,
		CallBudget:       12,
		Tolerance:        0.5,
		MaxBatchSize:     30,
	})
	if p.InitialBatchSize != 3 {
		t.Errorf("InitialBatchSize = %d, want 3", p.InitialBatchSize)
	}
	if p.CallBudget != 12 {
		t.Errorf("CallBudget = %d, want 12", p.CallBudget)
	}
	if p.Tolerance != 0.5 {
		t.Errorf("Tolerance = %v, want 0.5", p.Tolerance)
	}
	if p.MaxBatchSize != 30 {
		t.Errorf("MaxBatchSize = %d, want 30", p.MaxBatchSize)
	}
}

func TestLevelParams_Partial(t *testing.T) {
	p := levelParams(newTestLevelConfig(), web.LevelRequest{CallBudget: 7})
	if p.CallBudget != 7 {
		t.Errorf("CallBudget = %d, want 7", p.CallBudget)
	}
	if p.InitialBatchSize != 10 || p.Tolerance != 2 {
		t.Errorf("untouched fields changed: %+v", p)
	}
}

// ---------- applyGlobalOverrides ----------

func TestApplyGlobalOverrides(t *testing.T) {
	cfg := config.Default()
	applyGlobalOverrides(cfg, -1, false, true)
	if cfg.Defaults.DebugLevel != 0 || cfg.Defaults.MockHardware {
		t.Errorf("unset flags changed config: %+v", cfg.Defaults)
	}

	applyGlobalOverrides(cfg, 9, true, true)
	if cfg.Defaults.DebugLevel != debug.LevelTrace {
		t.Errorf("DebugLevel = %d, want clamped to %d", cfg.Defaults.DebugLevel, debug.LevelTrace)
	}
	if !cfg.Defaults.MockHardware {
		t.Error("MockHardware should be set by --mock")
	}
}

// ---------- argument parsing ----------

func TestParseDuty(t *testing.T) {
	for _, s := range []string{"0", "560", "999"} {
		if _, err := parseDuty(s); err != nil {
			t.Errorf("parseDuty(%q): %v", s, err)
		}
	}
	for _, s := range []string{"-1", "1000", "abc", "5.5"} {
		if _, err := parseDuty(s); err == nil {
			t.Errorf("parseDuty(%q): expected error", s)
		}
	}
	if _, err := parseDuty("1000"); !errors.Is(err, shaker.ErrDutyOutOfRange) {
		t.Errorf("out of range error = %v, want ErrDutyOutOfRange", err)
	}
}

func TestParseXY(t *testing.T) {
	x, y, err := parseXY("-40", "25")
	if err != nil || x != -40 || y != 25 {
		t.Errorf("parseXY = (%d, %d, %v)", x, y, err)
	}
	if _, _, err := parseXY("1.5", "2"); err == nil {
		t.Error("expected error for non-integer x")
	}
}

func TestParsePoints(t *testing.T) {
	pts, err := parsePoints([]string{"227,5", "429.5, 7", "522,181"})
	if err != nil {
		t.Fatalf("parsePoints: %v", err)
	}
	want := []geometry.Point{{X: 227, Y: 5}, {X: 429.5, Y: 7}, {X: 522, Y: 181}}
	for i := range want {
		if pts[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, pts[i], want[i])
		}
	}
	for _, bad := range [][]string{{"227"}, {"a,5"}, {"5,b"}} {
		if _, err := parsePoints(bad); err == nil {
			t.Errorf("parsePoints(%v): expected error", bad)
		}
	}
}

// ---------- rig ----------

func TestOpenCamera_DirectoryMustExist(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Type = "directory"
	cfg.Camera.Dir = filepath.Join(t.TempDir(), "missing")

	if _, err := newRig(cfg, config.State{}).openCamera(); err == nil {
		t.Error("expected error for a missing camera directory")
	}

	cfg.Camera.Dir = t.TempDir()
	src, err := newRig(cfg, config.State{}).openCamera()
	if err != nil {
		t.Fatalf("openCamera: %v", err)
	}
	if _, ok := src.(*camera.DirectorySource); !ok {
		t.Errorf("source = %T, want *camera.DirectorySource", src)
	}
}

// ---------- commands on the simulated rig ----------

func writeMockConfig(t *testing.T) (cfgFile, dataDir string) {
	t.Helper()
	root := t.TempDir()
	dataDir = filepath.Join(root, "data")
	if err := os.Mkdir(filepath.Join(root, "configs"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgFile = filepath.Join(root, "configs", "shaker.yaml")
	doc := fmt.Sprintf(`
level:
  seed: 3
  candidates: 200
  warm_start: none
paths:
  state: %q
  position: %q
  trial_log: %q
  trial_db: %q
mock:
  level_x: 40
  level_y: -30
  noise: 0.5
  seed: 5
defaults:
  mock_hardware: true
`,
		filepath.Join(dataDir, "shaker_state.yaml"),
		filepath.Join(dataDir, "motor_pos.txt"),
		filepath.Join(dataDir, "track_level.txt"),
		filepath.Join(dataDir, "trials.db"),
	)
	if err := os.WriteFile(cfgFile, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgFile, dataDir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_LevelOnSimulatedRig(t *testing.T) {
	cfgFile, dataDir := writeMockConfig(t)

	_, err := runCLI(t, "--config", cfgFile, "level", "--budget", "6", "--batch", "2")
	if !errors.Is(err, errNoBounds) {
		t.Fatalf("level without bounds: err = %v, want errNoBounds", err)
	}

	out, err := runCLI(t, "--config", cfgFile, "bounds", "set", "--", "-100", "-100", "100", "100")
	if err != nil {
		t.Fatalf("bounds set: %v", err)
	}
	if !strings.Contains(out, "x [-100, 100] y [-100, 100]") {
		t.Errorf("bounds set output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "level", "--budget", "6", "--batch", "2", "--move-to-best")
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if !strings.Contains(out, "of 6") {
		t.Errorf("level output = %q", out)
	}

	rows, err := triallog.New(filepath.Join(dataDir, "track_level.txt")).ReadAll()
	if err != nil {
		t.Fatalf("read trial log: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("trial log rows = %d, want 6", len(rows))
	}
	best := rows[0]
	for _, r := range rows {
		if r.Cost < 0 || r.Fluctuation < 0 {
			t.Errorf("negative values in row %+v", r)
		}
		if r.X < -100 || r.X > 100 || r.Y < -100 || r.Y > 100 {
			t.Errorf("row %+v outside bounds", r)
		}
		if r.Cost < best.Cost {
			best = r
		}
	}

	db, err := trialdb.Open(filepath.Join(dataDir, "trials.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	runs, err := db.Runs()
	db.Close()
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Trials != 6 {
		t.Errorf("runs = %+v, want one run of 6 trials", runs)
	}

	out, err = runCLI(t, "--config", cfgFile, "position")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if got, want := strings.TrimSpace(out), fmt.Sprintf("%d,%d", best.X, best.Y); got != want {
		t.Errorf("position after --move-to-best = %q, want %q", got, want)
	}

	out, err = runCLI(t, "--config", cfgFile, "trials")
	if err != nil {
		t.Fatalf("trials: %v", err)
	}
	if !strings.Contains(out, runs[0].RunID) {
		t.Errorf("trials output does not list run %s:\n%s", runs[0].RunID, out)
	}
}

func TestCLI_StateCommands(t *testing.T) {
	cfgFile, dataDir := writeMockConfig(t)

	out, err := runCLI(t, "--config", cfgFile, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "showing defaults") {
		t.Errorf("state without file should say defaults:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "boundary", "set", "0,0", "10,0", "10,10", "0,10")
	if err != nil {
		t.Fatalf("boundary set: %v", err)
	}
	if !strings.Contains(out, "centroid (5.00, 5.00)") {
		t.Errorf("boundary set output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "boundary", "set", "0,0", "10,0", "10,10", "0,10")
	if err != nil {
		t.Fatalf("boundary set again: %v", err)
	}
	if !strings.Contains(out, "(unchanged)") {
		t.Errorf("repeated boundary set should not rewrite: %q", out)
	}

	if _, err := runCLI(t, "--config", cfgFile, "warmup", "set", "--measure-duty", "500", "--ramp", "2s"); err != nil {
		t.Fatalf("warmup set: %v", err)
	}

	s, err := config.LoadState(filepath.Join(dataDir, "shaker_state.yaml"))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if s.Warmup.MeasureDuty != 500 || s.Warmup.RampTimeMs != 2000 {
		t.Errorf("warmup = %+v", s.Warmup)
	}
	if s.Warmup.InitialDuty != 650 {
		t.Errorf("unset warm-up flag changed initial duty to %d", s.Warmup.InitialDuty)
	}
	if s.Boundary.Centroid != (geometry.Point{X: 5, Y: 5}) {
		t.Errorf("centroid = %v", s.Boundary.Centroid)
	}
}

func TestCLI_MoveAndOrigin(t *testing.T) {
	cfgFile, _ := writeMockConfig(t)

	out, err := runCLI(t, "--config", cfgFile, "move", "--", "-40", "25")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !strings.Contains(out, "(0,0) -> (-40,25)") {
		t.Errorf("move output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "origin")
	if err != nil {
		t.Fatalf("origin: %v", err)
	}
	if !strings.Contains(out, "was (-40,25)") {
		t.Errorf("origin output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "position")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if strings.TrimSpace(out) != "0,0" {
		t.Errorf("position after origin = %q", out)
	}
}

func TestCLI_DutyOnSimulatedSupply(t *testing.T) {
	cfgFile, _ := writeMockConfig(t)

	out, err := runCLI(t, "--config", cfgFile, "duty", "560", "--for", "1ms")
	if err != nil {
		t.Fatalf("duty: %v", err)
	}
	if !strings.HasPrefix(out, "duty 560") {
		t.Errorf("duty output = %q", out)
	}

	if _, err := runCLI(t, "--config", cfgFile, "duty", "1200"); err == nil {
		t.Error("expected error for duty out of range")
	}
}

func TestCLI_InvalidLevelOverride(t *testing.T) {
	cfgFile, _ := writeMockConfig(t)
	_, err := runCLI(t, "--config", cfgFile, "level", "--budget", "-3")
	if err == nil || !strings.Contains(err.Error(), "invalid override") {
		t.Errorf("err = %v, want invalid override", err)
	}
	levelReq = web.LevelRequest{}
}
