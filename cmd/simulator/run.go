package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/config"
	"github.com/signalsfoundry/vanet-simulator/internal/logging"
	"github.com/signalsfoundry/vanet-simulator/internal/observability"
	"github.com/signalsfoundry/vanet-simulator/internal/render"
	"github.com/signalsfoundry/vanet-simulator/internal/scenario"
	"github.com/signalsfoundry/vanet-simulator/internal/store"
	"github.com/signalsfoundry/vanet-simulator/internal/viewer"
	"github.com/signalsfoundry/vanet-simulator/timectrl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario",
		Long: `Run a built-in scenario or one defined in a YAML config file.

Settings are resolved as defaults, then the config file, then WSIM_*
environment variables, then flags given on the command line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			noColor, _ := cmd.Flags().GetBool("no-color")
			if noColor {
				color.NoColor = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runSimulation(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			// Frames own stdout; the summary goes to stderr then.
			out := cmd.OutOrStdout()
			if cfg.Render.Frames == "-" {
				out = cmd.ErrOrStderr()
			}
			printStatistics(out, stats)
			return nil
		},
	}

	cmd.Flags().String("config", "", "Path to a YAML config file")
	cmd.Flags().String("scenario", "", "Built-in scenario name (see 'scenarios')")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 picks one from the clock")
	cmd.Flags().Float64("stop", 0, "Stop time in simulated seconds; 0 runs until interrupted")
	cmd.Flags().Float64("step", 0, "Mobility step in simulated seconds")
	cmd.Flags().Float64("speed", 0, "Initial playback speed in display mode")
	cmd.Flags().Bool("display", false, "Pace to wall clock, draw annotations and read controls from stdin")
	cmd.Flags().Bool("paused", false, "Start paused (display mode)")
	cmd.Flags().String("frames", "", "Write frames to a file, or - for stdout")
	cmd.Flags().String("db", "", "Record the run and its connections in a SQLite database")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus /metrics on this address")
	cmd.Flags().String("viewer-addr", "", "Serve the gRPC frame stream and playback control on this address")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().String("log-format", "", "Log format: text or json")
	return cmd
}

// resolveConfig loads the config file and environment, then applies the
// flags that were set explicitly.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("scenario") {
		name, _ := flags.GetString("scenario")
		cfg.Scenario = config.ScenarioSpec{Name: name, Seed: cfg.Scenario.Seed}
	}
	if flags.Changed("seed") {
		cfg.Scenario.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("stop") {
		cfg.Simulation.Stop, _ = flags.GetFloat64("stop")
	}
	if flags.Changed("step") {
		cfg.Simulation.Step, _ = flags.GetFloat64("step")
	}
	if flags.Changed("speed") {
		cfg.Simulation.Speed, _ = flags.GetFloat64("speed")
	}
	if flags.Changed("display") {
		cfg.Simulation.Display, _ = flags.GetBool("display")
	}
	if flags.Changed("paused") {
		cfg.Simulation.StartPaused, _ = flags.GetBool("paused")
	}
	if flags.Changed("frames") {
		cfg.Render.Frames, _ = flags.GetString("frames")
	}
	if flags.Changed("db") {
		cfg.Store.Path, _ = flags.GetString("db")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("viewer-addr") {
		cfg.Viewer.Addr, _ = flags.GetString("viewer-addr")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runSimulation wires the ambient stack around one World run and returns
// the per-vehicle statistics.
func runSimulation(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) ([]scenario.VehicleStats, error) {
	log := cfg.Logging.Logger()
	ctx, runID := logging.EnsureRunID(ctx)

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	if srv := serveMetrics(ctx, cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	spec, err := scenario.Resolve(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	assocOpts := []scenario.Option{
		scenario.WithLogger(log),
		scenario.WithMetrics(collector),
		scenario.WithRunID(runID),
	}
	if cfg.Store.Path != "" {
		db, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		assocOpts = append(assocOpts, scenario.WithRecorder(db))
	}
	assoc := scenario.NewAssociation(spec, assocOpts...)

	worldOpts := []core.Option{
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
	}
	if cfg.Render.Frames != "" {
		frames, closeFrames, err := openFrames(cfg.Render.Frames, out)
		if err != nil {
			return nil, err
		}
		defer closeFrames()
		worldOpts = append(worldOpts, core.WithStepObserver(render.NewFrameWriter(frames)))
	}
	if cfg.Simulation.Display {
		worldOpts = append(worldOpts, core.WithPacer(timectrl.NewPacer(cfg.Simulation.Speed)))
	}
	var hub *viewer.Hub
	if cfg.Viewer.Addr != "" {
		hub = viewer.NewHub()
		worldOpts = append(worldOpts, core.WithStepObserver(hub))
	}

	w := core.NewWorld(cfg.Simulation.World(), assoc, worldOpts...)
	if hub != nil {
		stopViewer, err := serveViewer(ctx, cfg.Viewer.Addr, hub, w, log)
		if err != nil {
			return nil, err
		}
		defer stopViewer()
	}
	if cfg.Simulation.Display && in != nil {
		go readControls(ctx, in, w, log)
	}
	if err := w.Run(ctx); err != nil {
		return nil, err
	}
	return assoc.Statistics(), nil
}

func openFrames(target string, stdout io.Writer) (io.Writer, func(), error) {
	if target == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, nil, fmt.Errorf("open frames file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// serveViewer starts the gRPC viewer. The returned function ends every
// frame stream and stops the server gracefully.
func serveViewer(ctx context.Context, addr string, hub *viewer.Hub, ctl viewer.Controller, log logging.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for viewer: %w", err)
	}
	server := viewer.NewGRPCServer(viewer.NewServer(hub, ctl, log))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Warn(ctx, "viewer server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving viewer", logging.String("addr", lis.Addr().String()))

	return func() {
		hub.Close()
		done := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			server.Stop()
		}
	}, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
