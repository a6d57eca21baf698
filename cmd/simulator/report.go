package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/vanet-simulator/internal/config"
	"github.com/signalsfoundry/vanet-simulator/internal/scenario"
	"github.com/signalsfoundry/vanet-simulator/internal/store"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	missColor   = color.New(color.FgRed)
)

func printStatistics(out io.Writer, stats []scenario.VehicleStats) {
	headerColor.Fprintf(out, "%-12s %11s %14s %14s\n", "VEHICLE", "CONNECTIONS", "MEAN (s)", "TOTAL (s)")
	for _, s := range stats {
		c := okColor
		if len(s.Connections) == 0 {
			c = missColor
		}
		c.Fprintf(out, "%-12s %11d %14.2f %14.2f\n", s.ID, len(s.Connections), s.Mean, s.Total)
	}
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List built-in scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			headerColor.Fprintf(out, "%-14s %-24s %6s %9s %7s\n", "NAME", "TITLE", "SITES", "VEHICLES", "RELAYS")
			for _, name := range scenario.Names() {
				spec, _ := scenario.Builtin(name, 1)
				fmt.Fprintf(out, "%-14s %-24s %6d %9d %7d\n", name, spec.Name, len(spec.BaseStations), len(spec.Vehicles), len(spec.Relays))
			}
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in a results database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("db")
			if path == "" {
				cfg, err := config.Load("")
				if err != nil {
					return err
				}
				path = cfg.Store.Path
			}
			if path == "" {
				return fmt.Errorf("no results database: pass --db or set WSIM_DB")
			}
			runID, _ := cmd.Flags().GetString("run")
			return listRuns(cmd.Context(), cmd.OutOrStdout(), path, runID)
		},
	}
	cmd.Flags().String("db", "", "Path of the SQLite results database")
	cmd.Flags().String("run", "", "Show the connections of one run")
	return cmd
}

func listRuns(ctx context.Context, out io.Writer, path, runID string) error {
	db, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	if runID != "" {
		conns, err := db.Connections(ctx, runID)
		if err != nil {
			return err
		}
		headerColor.Fprintf(out, "%-12s %-12s %10s %10s %10s\n", "VEHICLE", "STATION", "START", "END", "DURATION")
		for _, c := range conns {
			fmt.Fprintf(out, "%-12s %-12s %10.2f %10.2f %10.2f\n", c.Vehicle, c.BaseStation, c.Start, c.End, c.Duration())
		}
		return nil
	}

	runs, err := db.Runs(ctx)
	if err != nil {
		return err
	}
	headerColor.Fprintf(out, "%-36s %-24s %-20s %10s %8s\n", "RUN", "SCENARIO", "STARTED", "SIM TIME", "EVENTS")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s %-24s %-20s %10.2f %8d\n",
			r.ID, truncate(r.Scenario, 24), r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.SimTime, r.Events)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
