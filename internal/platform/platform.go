package platform

import (
	"context"
	"errors"
)

// Search failures. Searchers wrap one of these so callers can map them to
// a response without knowing which platform produced them.
var (
	ErrMissingCredential = errors.New("search credential not configured")
	ErrQuotaExceeded     = errors.New("search quota exceeded or invalid credential")
	ErrTimeout           = errors.New("search timed out")
	ErrUpstream          = errors.New("search failed")
)

// Searcher resolves a free-text query to a playable video.
type Searcher interface {
	// Search returns the id of the best match, or "" when nothing matched.
	Search(ctx context.Context, query string) (string, error)

	// Configured reports whether the searcher has what it needs to run.
	Configured() bool

	// Name returns the platform name (e.g., "youtube")
	Name() string
}

// Registry holds all registered searchers.
type Registry struct {
	searchers []Searcher
}

// NewRegistry creates a new platform registry.
func NewRegistry() *Registry {
	return &Registry{
		searchers: make([]Searcher, 0),
	}
}

// Register adds a new searcher to the registry.
func (r *Registry) Register(s Searcher) {
	r.searchers = append(r.searchers, s)
}

// Default returns the first registered searcher, or nil.
func (r *Registry) Default() Searcher {
	if len(r.searchers) == 0 {
		return nil
	}
	return r.searchers[0]
}

// GetByName finds a searcher by platform name.
func (r *Registry) GetByName(name string) Searcher {
	for _, s := range r.searchers {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// ListPlatforms returns all registered platform names.
func (r *Registry) ListPlatforms() []string {
	names := make([]string, len(r.searchers))
	for i, s := range r.searchers {
		names[i] = s.Name()
	}
	return names
}
