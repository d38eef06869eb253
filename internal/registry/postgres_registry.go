package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatabc/open-safe-frame/internal/engine"
)

// ProfileStore abstracts DB queries for testability.
type ProfileStore interface {
	LookupProfile(ctx context.Context, tenantID, toolName string) (*profileRow, error)
}

type profileRow struct {
	ID              string
	TenantID        string
	ToolName        string
	Description     sql.NullString
	Families        string // JSONB array as string
	RequiresConfirm bool
}

type sqlProfileStore struct {
	db *sql.DB
}

func (s *sqlProfileStore) LookupProfile(ctx context.Context, tenantID, toolName string) (*profileRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, tool_name, description, families, requires_confirmation
		FROM tool_profiles
		WHERE tenant_id = $1 AND tool_name = $2
	`, tenantID, toolName)

	var r profileRow
	if err := row.Scan(&r.ID, &r.TenantID, &r.ToolName, &r.Description, &r.Families, &r.RequiresConfirm); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresRegistry fetches tool profiles from the tool_profiles table.
type PostgresRegistry struct {
	store  ProfileStore
	cache  *ProfileCache
	logger *zap.Logger
}

// PostgresRegistryConfig configures the PostgresRegistry.
type PostgresRegistryConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewPostgresRegistry(cfg PostgresRegistryConfig) *PostgresRegistry {
	return newPostgresRegistryWithStore(&sqlProfileStore{db: cfg.DB}, cfg.CacheTTL, cfg.Logger)
}

func newPostgresRegistryWithStore(store ProfileStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresRegistry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRegistry{
		store:  store,
		cache:  NewProfileCache(cacheTTL),
		logger: logger,
	}
}

func (r *PostgresRegistry) GetProfile(ctx context.Context, tenantID, toolName string) (*ToolProfile, error) {
	cached := r.cache.Get(tenantID, toolName)
	if cached.Hit {
		if cached.NeedsRefresh {
			go r.refreshInBackground(tenantID, toolName)
		}
		return cached.Profile, nil
	}

	p, err := r.fetchFromDB(ctx, tenantID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(tenantID, toolName, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetProfile: %w", err)
	}

	r.cache.Set(tenantID, toolName, p)
	return p, nil
}

func (r *PostgresRegistry) fetchFromDB(ctx context.Context, tenantID, toolName string) (*ToolProfile, error) {
	row, err := r.store.LookupProfile(ctx, tenantID, toolName)
	if err != nil {
		return nil, err
	}
	return parseProfileRow(row)
}

func (r *PostgresRegistry) refreshInBackground(tenantID, toolName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := r.fetchFromDB(ctx, tenantID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(tenantID, toolName, nil)
			return
		}
		r.logger.Warn("background tool profile refresh failed",
			zap.String("tenant_id", tenantID),
			zap.String("tool_name", toolName),
			zap.Error(err),
		)
		return
	}
	r.cache.Set(tenantID, toolName, p)
}

func parseProfileRow(row *profileRow) (*ToolProfile, error) {
	p := &ToolProfile{
		ID:              row.ID,
		TenantID:        row.TenantID,
		ToolName:        row.ToolName,
		RequiresConfirm: row.RequiresConfirm,
	}
	if row.Description.Valid {
		p.Description = row.Description.String
	}
	if row.Families != "" && row.Families != "[]" {
		var families []string
		if err := json.Unmarshal([]byte(row.Families), &families); err != nil {
			return nil, fmt.Errorf("parseProfileRow: families: %w", err)
		}
		for _, f := range families {
			p.Families = append(p.Families, engine.Family(f))
		}
	}
	return p, nil
}
