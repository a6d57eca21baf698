package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vanet-sim",
		Short: "Discrete-event simulator for vehicular wireless connectivity",
		Long: `vanet-sim moves vehicles along waypoint paths past base stations and
associates each vehicle with the strongest free beam it can reach.

Runs are headless by default. With --display the loop is paced to wall
clock time, accepts playback controls on stdin and can stream frames for
an external renderer.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newScenariosCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vanet-sim version %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
