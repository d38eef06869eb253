package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TenantStore abstracts the tenants table for testability.
type TenantStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*tenantRow, error)
}

type tenantRow struct {
	TenantID   string
	APIKeyHash string
	Mode       string
	FailOpen   bool
}

type sqlTenantStore struct {
	db *sql.DB
}

func (s *sqlTenantStore) LookupByPrefix(ctx context.Context, prefix string) (*tenantRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key_hash, mode, fail_open
		FROM tenants
		WHERE api_key_prefix = $1 AND disabled_at IS NULL
	`, prefix)

	var r tenantRow
	if err := row.Scan(&r.TenantID, &r.APIKeyHash, &r.Mode, &r.FailOpen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	return &r, nil
}

// PostgresAuthenticator validates API keys against the tenants table.
type PostgresAuthenticator struct {
	store  TenantStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return newPostgresAuthenticatorWithStore(&sqlTenantStore{db: cfg.DB}, NewAuthCache(ttl), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(store TenantStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// AuthenticateKey resolves the key through the cache, falling back to a
// prefix lookup plus bcrypt verification on a miss.
func (a *PostgresAuthenticator) AuthenticateKey(ctx context.Context, apiKey string) (*TenantContext, error) {
	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Tenant, nil
	}

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return nil, ErrInvalidAPIKey
		}
		a.logger.Warn("auth DB unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	a.cache.Set(apiKey, tenant)
	return tenant, nil
}

func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tenant, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}
	a.cache.Set(apiKey, tenant)
}

func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*TenantContext, error) {
	// api_key_prefix is the first 8 chars, e.g. "sfk_abcd"
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}

	row, err := a.store.LookupByPrefix(ctx, apiKey[:8])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	mode := row.Mode
	if mode != ModeShadow {
		mode = ModeEnforce
	}
	return &TenantContext{
		TenantID: row.TenantID,
		Mode:     mode,
		FailOpen: row.FailOpen,
	}, nil
}
