// Package render emits per-step frames for external renderers. Each frame
// is one protojson-encoded google.protobuf.Struct per line.
package render

import (
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/vanet-simulator/core"
)

// Option configures a FrameWriter.
type Option func(*FrameWriter)

// WithEvery emits one frame every n steps.
func WithEvery(n int) Option {
	return func(f *FrameWriter) {
		if n > 0 {
			f.every = n
		}
	}
}

// FrameWriter writes a frame after every mobility step. It only reads the
// world, so it is safe to attach to any run.
type FrameWriter struct {
	mu     sync.Mutex
	out    io.Writer
	every  int
	steps  int
	frames int
}

// NewFrameWriter writes frames to out.
func NewFrameWriter(out io.Writer, opts ...Option) *FrameWriter {
	f := &FrameWriter{out: out, every: 1}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Frames is the number of frames written so far.
func (f *FrameWriter) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

// OnStep implements core.StepObserver.
func (f *FrameWriter) OnStep(w *core.World) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.steps++
	if (f.steps-1)%f.every != 0 {
		return nil
	}
	frame, err := BuildFrame(w)
	if err != nil {
		return err
	}
	line, err := protojson.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.out.Write(line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	f.frames++
	return nil
}

// BuildFrame snapshots the live nodes of w.
func BuildFrame(w *core.World) (*structpb.Struct, error) {
	nodes := make([]any, 0, w.Registry().Len())
	for n := range w.Registry().All() {
		nodes = append(nodes, nodeFields(n))
	}

	fields := map[string]any{
		"sim_time": w.Now(),
		"scenario": w.Name(),
		"speed":    w.Speed(),
		"progress": w.Progress(),
		"nodes":    nodes,
	}
	if bg := w.Background(); bg.Image != "" {
		fields["background"] = map[string]any{"image": bg.Image, "x": bg.X, "y": bg.Y}
	}

	frame, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build frame: %w", err)
	}
	return frame, nil
}

func nodeFields(n *core.Node) map[string]any {
	pos := n.Position()
	out := map[string]any{
		"id":      n.ID(),
		"type":    n.Type().String(),
		"x":       pos.X,
		"y":       pos.Y,
		"azimuth": n.Direction().Azimuth,
		"color":   n.Drawing().Color(),
	}
	if tr := n.Transceiver(); tr != nil {
		p := tr.Channel().Properties()
		out["channel"] = map[string]any{
			"model":      p.Model,
			"frequency":  p.Frequency,
			"radius":     p.Radius,
			"beam_width": p.BeamWidth,
			"azimuth":    p.Azimuth,
		}
	}

	shapes := n.Drawing().Shapes()
	if len(shapes) == 0 {
		return out
	}
	list := make([]any, 0, len(shapes))
	for _, s := range shapes {
		shape := map[string]any{
			"kind":  s.Kind.String(),
			"color": s.Style.Color,
			"width": s.Style.Width,
		}
		if s.Style.Dashed {
			shape["dashed"] = true
		}
		switch s.Kind {
		case core.ShapeLine:
			if s.Peer != nil {
				peer := s.Peer.Position()
				shape["peer"] = s.Peer.ID()
				shape["x2"] = peer.X
				shape["y2"] = peer.Y
			}
		case core.ShapeCircle:
			shape["radius"] = s.Radius
		case core.ShapeSector:
			shape["radius"] = s.Radius
			shape["azimuth"] = s.Azimuth
			shape["beam_width"] = s.BeamWidth
		}
		list = append(list, shape)
	}
	out["shapes"] = list
	return out
}
