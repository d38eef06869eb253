package auth

import (
	"context"
	"crypto/subtle"
)

// StaticAuthenticator serves a single tenant from configuration.
// With no key configured it accepts any well-formed key (development only).
type StaticAuthenticator struct {
	key    string
	tenant TenantContext
}

// StaticAuthConfig configures the StaticAuthenticator.
type StaticAuthConfig struct {
	APIKey   string
	TenantID string
	Mode     string
	FailOpen bool
}

func NewStaticAuthenticator(cfg StaticAuthConfig) *StaticAuthenticator {
	mode := cfg.Mode
	if mode != ModeShadow {
		mode = ModeEnforce
	}
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "default"
	}
	return &StaticAuthenticator{
		key: cfg.APIKey,
		tenant: TenantContext{
			TenantID: tenantID,
			Mode:     mode,
			FailOpen: cfg.FailOpen,
		},
	}
}

func (a *StaticAuthenticator) AuthenticateKey(_ context.Context, apiKey string) (*TenantContext, error) {
	if a.key != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	t := a.tenant
	return &t, nil
}
