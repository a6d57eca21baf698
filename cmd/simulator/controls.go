package main

import (
	"bufio"
	"context"
	"io"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
	"github.com/signalsfoundry/vanet-simulator/internal/viewer"
)

// readControls applies one command per line to the world until ctx ends
// or in is exhausted.
func readControls(ctx context.Context, in io.Reader, w viewer.Controller, log logging.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := viewer.Apply(w, scanner.Text()); err != nil {
			log.Warn(ctx, "ignoring control", logging.Err(err))
		}
	}
}
