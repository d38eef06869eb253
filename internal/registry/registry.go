package registry

import "context"

// ProfileRegistry provides operator tool profiles for a tenant.
type ProfileRegistry interface {
	// GetProfile returns the profile for a tenant+tool pair, or nil if the
	// tool has no profile (families then come from the tool name alone).
	GetProfile(ctx context.Context, tenantID, toolName string) (*ToolProfile, error)
}

// Layered consults each registry in order and returns the first profile found.
type Layered []ProfileRegistry

func (l Layered) GetProfile(ctx context.Context, tenantID, toolName string) (*ToolProfile, error) {
	for _, r := range l {
		p, err := r.GetProfile(ctx, tenantID, toolName)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}
