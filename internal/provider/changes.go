package provider

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"cloud.google.com/go/civil"
)

// ChangeType is the kind of calendar entry a change set adds.
type ChangeType string

const (
	ChangeHoliday         ChangeType = "holiday"
	ChangeSpecialOpen     ChangeType = "special_open"
	ChangeSpecialClose    ChangeType = "special_close"
	ChangeQuarterlyExpiry ChangeType = "quarterly_expiry"
	ChangeMonthlyExpiry   ChangeType = "monthly_expiry"
)

// Change is a single added calendar entry.
type Change struct {
	Type ChangeType  `json:"type" yaml:"type"`
	Name string      `json:"name" yaml:"name"`
	Time *civil.Time `json:"time,omitempty" yaml:"time,omitempty"`
}

// ChangeSet is the set of adjustments applied on top of one venue's facts.
type ChangeSet struct {
	Add    map[civil.Date]Change `json:"add,omitempty" yaml:"add,omitempty"`
	Remove []civil.Date          `json:"remove,omitempty" yaml:"remove,omitempty"`
	Meta   map[civil.Date]Meta   `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// ChangeSets maps venues to their change set.
type ChangeSets map[string]ChangeSet

// IsEmpty reports whether the change set carries no changes.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Add) == 0 && len(cs.Remove) == 0 && len(cs.Meta) == 0
}

// Equal reports whether two change sets describe the same changes.
func (cs ChangeSet) Equal(other ChangeSet) bool {
	if cs.IsEmpty() && other.IsEmpty() {
		return true
	}
	a, b := slices.Clone(cs.Remove), slices.Clone(other.Remove)
	slices.SortFunc(a, civil.Date.Compare)
	slices.SortFunc(b, civil.Date.Compare)
	return slices.Equal(a, b) &&
		reflect.DeepEqual(normalizeAdd(cs.Add), normalizeAdd(other.Add)) &&
		reflect.DeepEqual(normalizeMeta(cs.Meta), normalizeMeta(other.Meta))
}

func normalizeAdd(m map[civil.Date]Change) map[civil.Date]Change {
	if len(m) == 0 {
		return nil
	}
	return m
}

func normalizeMeta(m map[civil.Date]Meta) map[civil.Date]Meta {
	if len(m) == 0 {
		return nil
	}
	return m
}

// Equal reports whether both maps hold equal change sets for the same venues.
func (c ChangeSets) Equal(other ChangeSets) bool {
	if len(c) != len(other) {
		return false
	}
	for venue, cs := range c {
		o, ok := other[venue]
		if !ok || !cs.Equal(o) {
			return false
		}
	}
	return true
}

// Validate checks the change set for internal consistency.
func (cs ChangeSet) Validate() error {
	for d, ch := range cs.Add {
		if !d.IsValid() {
			return fmt.Errorf("%w: invalid date %v", ErrInvalidChangeSet, d)
		}
		switch ch.Type {
		case ChangeHoliday, ChangeQuarterlyExpiry, ChangeMonthlyExpiry:
		case ChangeSpecialOpen, ChangeSpecialClose:
			if ch.Time == nil {
				return fmt.Errorf("%w: %s on %s requires a time", ErrInvalidChangeSet, ch.Type, d)
			}
		default:
			return fmt.Errorf("%w: unknown type %q on %s", ErrInvalidChangeSet, ch.Type, d)
		}
	}
	for _, d := range cs.Remove {
		if _, ok := cs.Add[d]; ok {
			return fmt.Errorf("%w: %s is both added and removed", ErrInvalidChangeSet, d)
		}
	}
	return nil
}

// Apply applies the change set to c in place. A removed date loses every
// listed entry; an added entry replaces whatever its category held on that
// date. Derived expiries and month ends are recomputed afterwards.
func (cs ChangeSet) Apply(c *Calendar) {
	removed := make(map[civil.Date]bool, len(cs.Remove))
	for _, d := range cs.Remove {
		removed[d] = true
	}
	replaced := make(map[civil.Date]bool, len(cs.Add)+len(cs.Remove))
	for d := range removed {
		replaced[d] = true
	}
	for d, ch := range cs.Add {
		switch ch.Type {
		case ChangeHoliday, ChangeSpecialOpen, ChangeSpecialClose:
			replaced[d] = true
		}
	}

	c.RegularHolidays = slices.DeleteFunc(c.RegularHolidays, func(h NamedDate) bool { return replaced[h.Date] })
	c.AdhocHolidays = slices.DeleteFunc(c.AdhocHolidays, func(d civil.Date) bool { return replaced[d] })
	c.SpecialOpens = dropSessionDates(c.SpecialOpens, replaced)
	c.SpecialOpensAdhoc = dropSessionDates(c.SpecialOpensAdhoc, replaced)
	c.SpecialCloses = dropSessionDates(c.SpecialCloses, replaced)
	c.SpecialClosesAdhoc = dropSessionDates(c.SpecialClosesAdhoc, replaced)

	dates := slices.Collect(maps.Keys(cs.Add))
	slices.SortFunc(dates, civil.Date.Compare)

	for _, d := range dates {
		ch := cs.Add[d]
		switch ch.Type {
		case ChangeHoliday:
			c.RegularHolidays = append(c.RegularHolidays, NamedDate{Date: d, Name: ch.Name})
		case ChangeSpecialOpen:
			c.SpecialOpens = addSessionDate(c.SpecialOpens, *ch.Time, NamedDate{Date: d, Name: ch.Name})
		case ChangeSpecialClose:
			c.SpecialCloses = addSessionDate(c.SpecialCloses, *ch.Time, NamedDate{Date: d, Name: ch.Name})
		}
	}

	// Holidays may have moved, so derived markers are recomputed before
	// explicit expiry changes go on top. Recomputed markers are not subject
	// to removal; removing a holiday must not also drop the month end that
	// now falls on it.
	if c.derived {
		Derive(c, c.FirstYear, c.LastYear)
		removed = nil
	}

	expiryReplaced := func(n NamedDate) bool {
		if removed[n.Date] {
			return true
		}
		ch, ok := cs.Add[n.Date]
		return ok && (ch.Type == ChangeQuarterlyExpiry || ch.Type == ChangeMonthlyExpiry)
	}
	c.QuarterlyExpiries = slices.DeleteFunc(c.QuarterlyExpiries, expiryReplaced)
	c.MonthlyExpiries = slices.DeleteFunc(c.MonthlyExpiries, expiryReplaced)
	c.MonthEnds = slices.DeleteFunc(c.MonthEnds, func(n NamedDate) bool {
		return removed[n.Date] || !c.IsBusinessDay(n.Date)
	})

	for _, d := range dates {
		ch := cs.Add[d]
		switch ch.Type {
		case ChangeQuarterlyExpiry:
			c.QuarterlyExpiries = append(c.QuarterlyExpiries, NamedDate{Date: d, Name: ch.Name})
		case ChangeMonthlyExpiry:
			c.MonthlyExpiries = append(c.MonthlyExpiries, NamedDate{Date: d, Name: ch.Name})
		}
	}

	if len(cs.Meta) > 0 && c.Metadata == nil {
		c.Metadata = make(map[civil.Date]Meta, len(cs.Meta))
	}
	for d, m := range cs.Meta {
		c.Metadata[d] = Meta{Tags: slices.Clone(m.Tags), Comment: m.Comment}
	}
}

func dropSessionDates(groups []SessionDates, touched map[civil.Date]bool) []SessionDates {
	out := groups[:0]
	for _, g := range groups {
		g.Dates = slices.DeleteFunc(g.Dates, func(n NamedDate) bool { return touched[n.Date] })
		if len(g.Dates) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func addSessionDate(groups []SessionDates, t civil.Time, d NamedDate) []SessionDates {
	for i := range groups {
		if groups[i].Time == t {
			groups[i].Dates = append(groups[i].Dates, d)
			return groups
		}
	}
	return append(groups, SessionDates{Time: t, Dates: []NamedDate{d}})
}

// Patched overlays change sets on a base provider.
type Patched struct {
	base Provider

	mu      sync.RWMutex
	changes ChangeSets
}

// NewPatched wraps base with an initially empty set of changes.
func NewPatched(base Provider) *Patched {
	return &Patched{base: base, changes: ChangeSets{}}
}

// Calendar implements Provider.
func (p *Patched) Calendar(venue string) (*Calendar, error) {
	cal, err := p.base.Calendar(venue)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	cs, ok := p.changes[venue]
	p.mu.RUnlock()

	if ok {
		cs.Apply(cal)
	}
	return cal, nil
}

// Changes returns a copy of the currently applied change sets.
func (p *Patched) Changes() ChangeSets {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.changes)
}

// SetChanges validates and replaces all applied change sets.
func (p *Patched) SetChanges(all ChangeSets) error {
	for venue, cs := range all {
		if err := cs.Validate(); err != nil {
			return fmt.Errorf("venue %s: %w", venue, err)
		}
	}

	next := make(ChangeSets, len(all))
	for venue, cs := range all {
		if !cs.IsEmpty() {
			next[venue] = cs
		}
	}

	p.mu.Lock()
	p.changes = next
	p.mu.Unlock()
	return nil
}
