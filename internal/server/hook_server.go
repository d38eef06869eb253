// Package server exposes the guard's hook handlers as the SafeFrameService gRPC service.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

// HookServer implements SafeFrameService on top of guard.Service.
type HookServer struct {
	safeframev1.UnimplementedSafeFrameServiceServer
	guard  *guard.Service
	logger *zap.Logger
}

func NewHookServer(g *guard.Service, logger *zap.Logger) *HookServer {
	return &HookServer{guard: g, logger: logger}
}

// AuthInterceptor authenticates every SafeFrameService call from its
// "authorization" metadata and stores the tenant in the context.
func AuthInterceptor(a auth.Authenticator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	prefix := "/" + safeframev1.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req) // health, reflection
		}
		start := time.Now()
		tenant, err := auth.FromMetadata(ctx, a)
		if err != nil {
			if errors.Is(err, auth.ErrAuthUnavailable) {
				logger.Error("auth backend unavailable", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, status.Error(codes.Unavailable, "authentication backend unavailable")
			}
			return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
		}
		resp, err := handler(auth.WithTenant(ctx, tenant), req)
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("tenant_id", tenant.TenantID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}

func (s *HookServer) StartSession(ctx context.Context, req *safeframev1.StartSessionRequest) (*safeframev1.StartSessionResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	created, err := s.guard.StartSession(tenant, req.SessionKey)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &safeframev1.StartSessionResponse{SessionKey: req.SessionKey, Created: created}, nil
}

func (s *HookServer) EndSession(ctx context.Context, req *safeframev1.EndSessionRequest) (*safeframev1.EndSessionResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	ended, err := s.guard.EndSession(tenant, req.SessionKey)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &safeframev1.EndSessionResponse{Ended: ended}, nil
}

func (s *HookServer) MessageReceived(ctx context.Context, req *safeframev1.MessageReceivedRequest) (*safeframev1.MessageReceivedResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.guard.MessageReceived(ctx, tenant, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return resp, nil
}

func (s *HookServer) BeforeToolCall(ctx context.Context, req *safeframev1.BeforeToolCallRequest) (*safeframev1.BeforeToolCallResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	if req.ToolName == "" {
		return nil, status.Error(codes.InvalidArgument, "tool_name is required")
	}
	resp, err := s.guard.BeforeToolCall(ctx, tenant, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return resp, nil
}

func (s *HookServer) AfterToolCall(ctx context.Context, req *safeframev1.AfterToolCallRequest) (*safeframev1.AfterToolCallResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AfterToolCall(ctx, tenant, req); err != nil {
		return nil, s.toStatus(err)
	}
	return &safeframev1.AfterToolCallResponse{}, nil
}

func (s *HookServer) ExportConstraints(ctx context.Context, req *safeframev1.ExportConstraintsRequest) (*safeframev1.ExportConstraintsResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.guard.ExportConstraints(ctx, tenant, req.SessionKey)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &safeframev1.ExportConstraintsResponse{Constraints: cs}, nil
}

func (s *HookServer) ImportConstraints(ctx context.Context, req *safeframev1.ImportConstraintsRequest) (*safeframev1.ImportConstraintsResponse, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.guard.ImportConstraints(ctx, tenant, req.SessionKey, req.Constraints, req.Secret)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &safeframev1.ImportConstraintsResponse{Imported: n}, nil
}

func tenantOf(ctx context.Context) (*auth.TenantContext, error) {
	t, ok := auth.TenantFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no authenticated tenant")
	}
	return t, nil
}

// toStatus maps guard errors onto gRPC codes.
func (s *HookServer) toStatus(err error) error {
	switch {
	case errors.Is(err, guard.ErrMissingSessionKey), errors.Is(err, guard.ErrInvalidSender):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, constraint.ErrInvalidPriority), errors.Is(err, constraint.ErrDuplicateID),
		errors.Is(err, constraint.ErrMissingID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, constraint.ErrSecretRequired):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, constraint.ErrNotFound), errors.Is(err, guard.ErrUnknownSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, constraint.ErrInactive):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		return status.Error(codes.Aborted, "session ended while the call was in flight")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("hook handler failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
