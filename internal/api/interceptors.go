package api

import (
	"context"
	"errors"
	"time"

	"github.com/bibswap/swapchat/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(token string) (session.User, error)
}

// Methods callable without a session.
var public = map[string]bool{
	fullMethod("Status"): true,
}

func authenticate(ctx context.Context, auth Authenticator) (context.Context, error) {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			raw = session.BearerToken(v[0])
		}
	}
	u, err := auth.Authenticate(raw)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return ctx, grpcstatus.Error(codes.Unauthenticated, "no session")
	case err != nil:
		return ctx, grpcstatus.Error(codes.Unauthenticated, "invalid session")
	}
	return session.WithUser(ctx, u), nil
}

// UnaryAuth authenticates every unary call except the public ones.
func UnaryAuth(auth Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, auth)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamAuth authenticates every stream.
func StreamAuth(auth Authenticator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), auth)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryLogging logs each call with its status code and duration.
func UnaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := grpcstatus.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated:
			logger.Debug("rpc", fields...)
		default:
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// ServerOptions returns the options the daemon builds its grpc.Server with.
func ServerOptions(auth Authenticator, logger *zap.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		ServerCodec(),
		grpc.ChainUnaryInterceptor(UnaryLogging(logger), UnaryAuth(auth)),
		grpc.ChainStreamInterceptor(StreamAuth(auth)),
	}
}

type bearer string

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if b == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + string(b)}, nil
}

// The daemon listens on a 0600 unix socket.
func (bearer) RequireTransportSecurity() bool { return false }

// WithToken attaches token to every call.
func WithToken(token string) grpc.DialOption {
	return grpc.WithPerRPCCredentials(bearer(token))
}
