package registry

import "context"

// StaticRegistry serves profiles declared in the config file to every tenant.
type StaticRegistry struct {
	profiles map[string]*ToolProfile
}

func NewStaticRegistry(profiles []ToolProfile) *StaticRegistry {
	m := make(map[string]*ToolProfile, len(profiles))
	for i := range profiles {
		p := profiles[i]
		m[p.ToolName] = &p
	}
	return &StaticRegistry{profiles: m}
}

func (r *StaticRegistry) GetProfile(_ context.Context, _, toolName string) (*ToolProfile, error) {
	return r.profiles[toolName], nil
}
