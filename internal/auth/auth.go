package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/metadata"
)

// KeyPrefix starts every tenant API key.
const KeyPrefix = "sfk_"

// Tenant modes.
const (
	ModeEnforce = "enforce"
	ModeShadow  = "shadow"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrMissingAPIKey   = fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	ErrInvalidAPIKey   = fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// TenantContext holds the authenticated tenant's configuration.
type TenantContext struct {
	TenantID string
	Mode     string // "enforce" or "shadow"
	// FailOpen lets a tool call through when the assessment pipeline faults.
	// When false a faulted assessment asks the user to confirm instead.
	FailOpen bool
}

// Shadow reports whether tool calls are assessed without ever being blocked.
func (t *TenantContext) Shadow() bool {
	return t.Mode == ModeShadow
}

// Authenticator resolves an API key to its tenant.
type Authenticator interface {
	AuthenticateKey(ctx context.Context, apiKey string) (*TenantContext, error)
}

// FromMetadata authenticates a gRPC call by its "authorization" metadata.
func FromMetadata(ctx context.Context, a Authenticator) (*TenantContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, ErrMissingAPIKey
	}
	key, err := ParseBearer(values[0])
	if err != nil {
		return nil, err
	}
	return a.AuthenticateKey(ctx, key)
}

// ParseBearer extracts the API key from an Authorization header value.
func ParseBearer(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < 8 {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

type tenantKey struct{}

// WithTenant returns a context carrying the tenant.
func WithTenant(ctx context.Context, t *TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFrom returns the tenant stored by WithTenant.
func TenantFrom(ctx context.Context) (*TenantContext, bool) {
	t, ok := ctx.Value(tenantKey{}).(*TenantContext)
	return t, ok && t != nil
}
