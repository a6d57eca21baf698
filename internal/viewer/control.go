// Package viewer serves a running simulation to external renderers over
// gRPC: a server stream of frames and a unary playback control.
package viewer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand is returned for control commands with no mapping.
var ErrUnknownCommand = errors.New("unknown control command")

// Controller is the part of core.World that playback commands drive. All
// methods must be safe to call from any goroutine.
type Controller interface {
	Pause()
	Resume()
	Stop()
	SpeedUp()
	SpeedDown()
	ResetSpeed()
}

// Commands lists the accepted command words.
const Commands = "pause (p), resume (r), faster (+), slower (-), x1 (1), quit (q)"

// Apply maps a command word onto c. Blank input is ignored.
func Apply(c Controller, command string) error {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "":
		return nil
	case "p", "pause":
		c.Pause()
	case "r", "resume":
		c.Resume()
	case "+", "faster":
		c.SpeedUp()
	case "-", "slower":
		c.SpeedDown()
	case "1", "x1":
		c.ResetSpeed()
	case "q", "quit", "stop":
		c.Stop()
	default:
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownCommand, command, Commands)
	}
	return nil
}
