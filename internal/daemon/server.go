package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/config"
	"github.com/bibswap/swapchat/internal/lock"
	"github.com/bibswap/swapchat/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for the daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the daemon's Unix domain socket.
// It requires the data dir lock, so a second daemon never replaces the socket.
func NewServer(
	cfg *config.Config,
	p Params,
	_ *lock.Lock,
	provider *session.Provider,
	svc *api.ConversationService,
	logger *zap.Logger,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}

	// The data dir lock is held, so any existing socket is stale.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(api.ServerOptions(provider, logger)...)
	api.Register(srv, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// SocketPath is the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop drains open calls, ending them at ctx's deadline, and removes the
// socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}
