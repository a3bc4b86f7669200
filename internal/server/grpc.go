package server

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GracefulGRPCServer serves a grpc.Server until the ShutdownManager stops it.
type GracefulGRPCServer struct {
	server      *grpc.Server
	shutdown    *ShutdownManager
	stopTimeout time.Duration
}

// NewGracefulGRPCServer wraps server and registers it with shutdown.
// GracefulStop is given stopTimeout before the server is stopped hard.
func NewGracefulGRPCServer(server *grpc.Server, shutdown *ShutdownManager, stopTimeout time.Duration) *GracefulGRPCServer {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	gs := &GracefulGRPCServer{server: server, shutdown: shutdown, stopTimeout: stopTimeout}
	shutdown.RegisterCloser(CloserFunc(gs.stop))
	return gs
}

// Serve accepts connections on lis until shutdown or a serve error.
func (gs *GracefulGRPCServer) Serve(lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: grpc listening addr=%s", lis.Addr())
		if err := gs.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-gs.shutdown.Done():
		// The shutdown manager stops the server through the closer.
		return <-errCh
	}
}

func (gs *GracefulGRPCServer) stop() error {
	done := make(chan struct{})
	go func() {
		gs.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gs.stopTimeout):
		log.Printf("server: graceful stop timed out after %s, stopping", gs.stopTimeout)
		gs.server.Stop()
	}
	return nil
}

// UnaryInterceptor tracks in-flight calls and rejects new ones with
// codes.Unavailable during shutdown.
func UnaryInterceptor(sm *ShutdownManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !sm.TrackCall() {
			return nil, status.Error(codes.Unavailable, "server is shutting down")
		}
		defer sm.UntrackCall()

		return handler(ctx, req)
	}
}
