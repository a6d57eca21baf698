package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "vanet.viewer.v1.Viewer"
	// ControlMethod and WatchMethod are the full method names.
	ControlMethod = "/" + ServiceName + "/Control"
	WatchMethod   = "/" + ServiceName + "/Watch"

	requestIDMetadataKey = "x-request-id"
	tracerName           = "github.com/signalsfoundry/vanet-simulator/internal/viewer"
)

// ViewerServer is the service implemented by Server. Messages are
// well-known protobuf types so clients need no generated code.
type ViewerServer interface {
	// Control takes {"command": "<word>"} and echoes the command back.
	Control(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Watch streams one frame per published step.
	Watch(req *emptypb.Empty, stream grpc.ServerStream) error
}

// ServiceDesc describes the viewer service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ViewerServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Control",
		Handler:    controlHandler,
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "vanet/viewer/v1/viewer.proto",
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ViewerServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ViewerServer).Control(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ViewerServer).Watch(in, stream)
}

// Server implements ViewerServer on top of a Hub and a Controller.
type Server struct {
	hub    *Hub
	ctl    Controller
	log    logging.Logger
	buffer int
}

// NewServer serves frames from hub and applies commands to ctl.
func NewServer(hub *Hub, ctl Controller, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{hub: hub, ctl: ctl, log: log, buffer: DefaultBuffer}
}

// Register adds the viewer service to s.
func Register(s *grpc.Server, srv *Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewGRPCServer returns a grpc.Server with otelgrpc stats, request-id and
// tracing interceptors and the viewer service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(srv.log),
			TracingUnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(RequestIDStreamServerInterceptor(srv.log)),
	)
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}

func (s *Server) Control(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	command := req.GetFields()["command"].GetStringValue()
	if s.ctl == nil {
		return nil, status.Error(codes.Unavailable, "no simulation attached")
	}
	if err := Apply(s.ctl, command); err != nil {
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "control applied", logging.String("command", command))
	return structpb.NewStruct(map[string]any{"command": command, "accepted": true})
}

func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	sub := s.hub.Subscribe(s.buffer)
	defer sub.Cancel()

	log := s.logger(ctx)
	log.Info(ctx, "viewer subscribed", logging.Int("subscribers", s.hub.Subscribers()))
	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "viewer left", logging.Int("frames", sent))
			return nil
		case frame, ok := <-sub.C:
			if !ok {
				log.Info(ctx, "simulation finished; closing stream", logging.Int("frames", sent))
				return nil
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
			sent++
		}
	}
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// ToStatusError maps viewer errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RequestIDUnaryServerInterceptor takes the request id from inbound
// metadata, or makes one, and attaches a logger annotated with it.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(withRequestLogger(ctx, base, info.FullMethod), req)
	}
}

// RequestIDStreamServerInterceptor is the streaming counterpart of
// RequestIDUnaryServerInterceptor.
func RequestIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withRequestLogger(ss.Context(), base, info.FullMethod)
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func withRequestLogger(ctx context.Context, base logging.Logger, method string) context.Context {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	log := base.With(logging.String("request_id", id), logging.String("method", method))
	return logging.ContextWithLogger(ctx, log)
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

// TracingUnaryServerInterceptor annotates the RPC span with rpc.* attributes,
// starting a server span only when no stats handler made one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := splitMethod(info.FullMethod)
		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, fmt.Sprintf("Viewer/%s", method), trace.WithSpanKind(trace.SpanKindServer))
			created = true
		}
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return resp, err
	}
}

func splitMethod(full string) (service, method string) {
	full = strings.TrimPrefix(full, "/")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}
