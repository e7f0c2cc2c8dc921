package health

import (
	"context"
	"net"

	"PChatGate/logger"
	"PChatGate/service/eventbus"
	"PChatGate/tools/errs"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 网关在健康检查里的服务名
const ServiceName = "pchatgate.Gateway"

// Server exposes grpc.health.v1; status follows the bus subscriber.
type Server struct {
	addr string
	gs   *grpc.Server
	hs   *health.Server
}

func NewServer(addr string) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{addr: addr, gs: gs, hs: hs}
}

// Track 订阅状态变化 -> SERVING / NOT_SERVING
func (s *Server) Track(sup *eventbus.Supervisor) {
	sup.Watch(func(st eventbus.State) {
		s.SetServing(st == eventbus.StateSubscribed)
	})
}

func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(ServiceName, status)
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errs.WrapMsg(err, "grpc listen", "addr", s.addr)
	}
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.hs.Shutdown()
		s.gs.GracefulStop()
	}()
	logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := s.gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return errs.WrapMsg(err, "grpc serve")
	}
	return nil
}
