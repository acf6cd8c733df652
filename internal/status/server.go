package status

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nettoclaudio/adb-qr-pair/internal/pairing"
)

const (
	// ServiceConnect is SERVING once a connect service has been discovered.
	ServiceConnect = "adb.connect"
	// ServicePairing is SERVING once pairing has been triggered.
	ServicePairing = "adb.pairing"
)

const shutdownTimeout = 2 * time.Second

// Server exposes the session progress through the standard gRPC health service, so scripts
// can wait on it with grpc_health_probe or a Watch call.
type Server struct {
	Address  string
	Listener net.Listener
	Logger   *zap.Logger

	health *health.Server
}

func NewServer(address string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		Address: address,
		Logger:  logger.With(zap.String("component", "status")),
		health:  health.NewServer(),
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceConnect, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServicePairing, healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// SetState mirrors a correlator state transition.
func (s *Server) SetState(state pairing.State) {
	s.Logger.Debug("State changed", zap.Stringer("state", state))

	switch state {
	case pairing.StateHaveConnectPort:
		s.health.SetServingStatus(ServiceConnect, healthpb.HealthCheckResponse_SERVING)

	case pairing.StateDone:
		s.health.SetServingStatus(ServiceConnect, healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(ServicePairing, healthpb.HealthCheckResponse_SERVING)
	}
}

// Serve blocks until ctx is done, then marks every service NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.Listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", s.Address)
		if err != nil {
			return err
		}
	}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.health)

	go func() {
		<-ctx.Done()
		s.Logger.Debug("Finishing status server")
		s.health.Shutdown()

		// Watch streams never end on their own.
		stopped := make(chan struct{})
		go func() { gs.GracefulStop(); close(stopped) }()

		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			gs.Stop()
		}
	}()

	s.Logger.Info("Starting status server", zap.String("address", l.Addr().String()))

	if err := gs.Serve(l); err != nil && err != grpc.ErrServerStopped {
		return err
	}

	return nil
}
