package calendar

import (
	"maps"
	"slices"
)

// Venue is a configured venue.
type Venue struct {
	MIC  string
	Name string
}

// Registry is the fixed set of venues the service answers for.
type Registry struct {
	venues []string
	names  map[string]string
}

// NewRegistry builds a registry from the configured venues. Later entries
// for the same MIC replace earlier ones.
func NewRegistry(venues []Venue) *Registry {
	names := make(map[string]string, len(venues))
	for _, v := range venues {
		names[v.MIC] = v.Name
	}
	return &Registry{
		venues: slices.Sorted(maps.Keys(names)),
		names:  names,
	}
}

// Venues returns the venue codes in ascending order.
func (r *Registry) Venues() []string { return slices.Clone(r.venues) }

// Names maps each venue code to its display name.
func (r *Registry) Names() map[string]string { return maps.Clone(r.names) }

// Has reports whether venue is configured.
func (r *Registry) Has(venue string) bool {
	_, ok := r.names[venue]
	return ok
}

// Len returns the number of configured venues.
func (r *Registry) Len() int { return len(r.venues) }
