package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	for _, name := range []string{"WSIM_STOP", "WSIM_STEP", "WSIM_SPEED", "WSIM_DISPLAY", "WSIM_SCENARIO", "WSIM_DB", "WSIM_FRAMES", "WSIM_METRICS_ADDR", "WSIM_VIEWER_ADDR"} {
		t.Setenv(name, "")
	}
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "vanet-sim version "+version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestScenariosCmd(t *testing.T) {
	out, _, err := execute(t, "", "scenarios")
	if err != nil {
		t.Fatalf("scenarios error: %v", err)
	}
	for _, name := range []string{"simple", "highway", "busy-highway", "small-cells", "relay", "mab", "Beam selection example"} {
		if !strings.Contains(out, name) {
			t.Fatalf("scenarios output missing %q:\n%s", name, out)
		}
	}
}

func TestRunHeadlessPrintsStatistics(t *testing.T) {
	out, _, err := execute(t, "", "run", "--scenario", "simple", "--stop", "6", "--log-level", "error")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "VEHICLE") {
		t.Fatalf("statistics output = %q", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 4 || fields[0] != "vehicle" || fields[1] != "1" || fields[2] != "3.30" {
		t.Fatalf("statistics row = %q", lines[1])
	}
}

func TestRunRecordsToDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	if _, _, err := execute(t, "", "run", "--scenario", "simple", "--stop", "6", "--db", db, "--log-level", "error"); err != nil {
		t.Fatalf("run error: %v", err)
	}

	out, _, err := execute(t, "", "runs", "--db", db)
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Single cell") {
		t.Fatalf("runs output = %q", out)
	}

	runID := strings.Fields(lines[1])[0]
	out, _, err = execute(t, "", "runs", "--db", db, "--run", runID)
	if err != nil {
		t.Fatalf("runs --run error: %v", err)
	}
	if !strings.Contains(out, "vehicle") || !strings.Contains(out, "BS") || !strings.Contains(out, "3.30") {
		t.Fatalf("connections output = %q", out)
	}
}

func TestRunStreamsFramesToStdout(t *testing.T) {
	out, stderr, err := execute(t, "", "run", "--scenario", "simple", "--stop", "0.5", "--display", "--speed", "20", "--frames", "-", "--log-level", "error")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(out))
	frames := 0
	for scanner.Scan() {
		var frame map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			t.Fatalf("stdout line is not a frame: %q", scanner.Text())
		}
		frames++
	}
	if frames != 5 {
		t.Fatalf("frames = %d, want 5", frames)
	}
	if !strings.Contains(stderr, "VEHICLE") {
		t.Fatalf("statistics not on stderr: %q", stderr)
	}
}

func TestRunServesViewerAndMetrics(t *testing.T) {
	out, _, err := execute(t, "", "run", "--scenario", "highway", "--stop", "1",
		"--viewer-addr", "127.0.0.1:0", "--metrics-addr", "127.0.0.1:0", "--log-level", "error")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !strings.Contains(out, "vehicle1") || !strings.Contains(out, "vehicle2") {
		t.Fatalf("statistics output = %q", out)
	}
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	if _, _, err := execute(t, "", "run", "--step", "-1"); err == nil {
		t.Fatalf("expected error for negative step")
	}
	if _, _, err := execute(t, "", "run", "--scenario", "autobahn", "--stop", "1"); err == nil {
		t.Fatalf("expected error for unknown scenario")
	}
}

func TestRunsNeedsDatabase(t *testing.T) {
	if _, _, err := execute(t, "", "runs"); err == nil {
		t.Fatalf("expected error without a database")
	}
}

type fakeController struct {
	calls []string
}

func (f *fakeController) Pause()      { f.calls = append(f.calls, "pause") }
func (f *fakeController) Resume()     { f.calls = append(f.calls, "resume") }
func (f *fakeController) Stop()       { f.calls = append(f.calls, "stop") }
func (f *fakeController) SpeedUp()    { f.calls = append(f.calls, "faster") }
func (f *fakeController) SpeedDown()  { f.calls = append(f.calls, "slower") }
func (f *fakeController) ResetSpeed() { f.calls = append(f.calls, "x1") }

func TestReadControls(t *testing.T) {
	f := &fakeController{}
	in := strings.NewReader("p\n\nwarp\n+\nr\nq\n")
	readControls(context.Background(), in, f, logging.Noop())
	if got := strings.Join(f.calls, ","); got != "pause,faster,resume,stop" {
		t.Fatalf("controls = %q", got)
	}
}

func TestResolveConfigAppliesOnlyChangedFlags(t *testing.T) {
	t.Setenv("WSIM_STOP", "42")
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{"--scenario", "highway", "--seed", "9"}); err != nil {
		t.Fatalf("ParseFlags error: %v", err)
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		t.Fatalf("resolveConfig error: %v", err)
	}
	if cfg.Simulation.Stop != 42 {
		t.Fatalf("stop = %v, want the environment value 42", cfg.Simulation.Stop)
	}
	if cfg.Scenario.Name != "highway" || cfg.Scenario.Seed != 9 {
		t.Fatalf("scenario = %+v", cfg.Scenario)
	}
	if cfg.Simulation.Step != 0.1 {
		t.Fatalf("step = %v, want the default 0.1", cfg.Simulation.Step)
	}
}
