package viewer

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

type fakeController struct {
	calls chan string
}

func newFakeController() *fakeController { return &fakeController{calls: make(chan string, 16)} }

func (f *fakeController) Pause()      { f.calls <- "pause" }
func (f *fakeController) Resume()     { f.calls <- "resume" }
func (f *fakeController) Stop()       { f.calls <- "stop" }
func (f *fakeController) SpeedUp()    { f.calls <- "faster" }
func (f *fakeController) SpeedDown()  { f.calls <- "slower" }
func (f *fakeController) ResetSpeed() { f.calls <- "x1" }

func (f *fakeController) drain() string {
	var got []string
	for {
		select {
		case c := <-f.calls:
			got = append(got, c)
		default:
			return strings.Join(got, ",")
		}
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{"p", "pause", false},
		{" Resume ", "resume", false},
		{"+", "faster", false},
		{"slower", "slower", false},
		{"1", "x1", false},
		{"q", "stop", false},
		{"", "", false},
		{"warp", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f := newFakeController()
			err := Apply(f, tt.input)
			if (err != nil) != tt.err {
				t.Fatalf("Apply(%q) error = %v, want error %v", tt.input, err, tt.err)
			}
			if err != nil && !errors.Is(err, ErrUnknownCommand) {
				t.Fatalf("Apply(%q) error = %v, want ErrUnknownCommand", tt.input, err)
			}
			if got := f.drain(); got != tt.want {
				t.Fatalf("Apply(%q) called %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func testWorld(stop float64, hub *Hub) *core.World {
	cfg := core.DefaultConfig()
	cfg.StopTime = stop
	cfg.Display = true
	sc := core.ScenarioFunc{Create: func(w *core.World) error {
		path := core.NewWaypointPath(core.Position{})
		if err := path.AddLeg(10, core.Position{X: 100}); err != nil {
			return err
		}
		w.NewNode("car", core.NodeVehicle, path, core.NewDiscModel(2.4, 50))
		return nil
	}}
	return core.NewWorld(cfg, sc, core.WithStepObserver(hub))
}

func TestHubSkipsWorkWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	if err := testWorld(0.5, hub).Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if hub.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", hub.Dropped())
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe(2)
	fast := hub.Subscribe(16)
	if err := testWorld(0.5, hub).Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	hub.Close()

	count := func(s *Subscription) int {
		n := 0
		for range s.C {
			n++
		}
		return n
	}
	if n := count(fast); n != 5 {
		t.Fatalf("fast subscriber got %d frames, want 5", n)
	}
	if n := count(slow); n != 2 {
		t.Fatalf("slow subscriber got %d frames, want 2", n)
	}
	if hub.Dropped() != 3 {
		t.Fatalf("Dropped = %d, want 3", hub.Dropped())
	}

	late := hub.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Fatalf("subscription after Close delivered a frame")
	}
	late.Cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d after Close", hub.Subscribers())
	}
}

func startServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	s := NewGRPCServer(srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestControlRPC(t *testing.T) {
	ctl := newFakeController()
	conn := startServer(t, NewServer(NewHub(), ctl, logging.Noop()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, "req-1")

	req, _ := structpb.NewStruct(map[string]any{"command": "pause"})
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, ControlMethod, req, resp); err != nil {
		t.Fatalf("Control error: %v", err)
	}
	if !resp.GetFields()["accepted"].GetBoolValue() || resp.GetFields()["command"].GetStringValue() != "pause" {
		t.Fatalf("Control response = %v", resp)
	}
	if got := ctl.drain(); got != "pause" {
		t.Fatalf("controller calls = %q, want pause", got)
	}

	req, _ = structpb.NewStruct(map[string]any{"command": "warp"})
	err := conn.Invoke(ctx, ControlMethod, req, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Control(warp) error = %v, want InvalidArgument", err)
	}
}

func TestControlWithoutSimulation(t *testing.T) {
	conn := startServer(t, NewServer(NewHub(), nil, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := structpb.NewStruct(map[string]any{"command": "pause"})
	err := conn.Invoke(ctx, ControlMethod, req, new(structpb.Struct))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("Control error = %v, want Unavailable", err)
	}
}

func TestWatchStreamsFramesUntilClose(t *testing.T) {
	hub := NewHub()
	conn := startServer(t, NewServer(hub, newFakeController(), logging.Noop()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		t.Fatalf("NewStream error: %v", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		t.Fatalf("SendMsg error: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := testWorld(0.5, hub).Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	hub.Close()

	var frames []*structpb.Struct
	for {
		frame := new(structpb.Struct)
		err := stream.RecvMsg(frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("RecvMsg error: %v", err)
		}
		frames = append(frames, frame)
	}
	if len(frames) != 5 {
		t.Fatalf("received %d frames, want 5", len(frames))
	}
	last := frames[len(frames)-1]
	nodes := last.GetFields()["nodes"].GetListValue().GetValues()
	if len(nodes) != 1 {
		t.Fatalf("nodes = %v", nodes)
	}
	car := nodes[0].GetStructValue().GetFields()
	if car["id"].GetStringValue() != "car" {
		t.Fatalf("node = %v", car)
	}
	if x := car["x"].GetNumberValue(); x < 4.99 || x > 5.01 {
		t.Fatalf("car x = %v, want 5", x)
	}
}

func TestToStatusError(t *testing.T) {
	if ToStatusError(nil) != nil {
		t.Fatalf("nil error mapped to non-nil")
	}
	if code := status.Code(ToStatusError(context.Canceled)); code != codes.Canceled {
		t.Fatalf("context.Canceled mapped to %v", code)
	}
	if code := status.Code(ToStatusError(errors.New("boom"))); code != codes.Internal {
		t.Fatalf("plain error mapped to %v", code)
	}
	already := status.Error(codes.NotFound, "gone")
	if ToStatusError(already) != already {
		t.Fatalf("status error was rewrapped")
	}
}
