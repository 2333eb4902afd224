package calendar

import (
	"slices"

	"cloud.google.com/go/civil"
)

// Grouper merges classifications of several venues. Venues sharing an
// identical classification end up in the same group; groups keep the order
// in which their first venue was added.
type Grouper struct {
	groups []VenueClassification
	index  map[DayClassification]int
}

// NewGrouper returns an empty Grouper.
func NewGrouper() *Grouper {
	return &Grouper{index: make(map[DayClassification]int)}
}

// Add records that venue has classification c.
func (g *Grouper) Add(c DayClassification, venue string) {
	if i, ok := g.index[c]; ok {
		g.groups[i].Venues = append(g.groups[i].Venues, venue)
		return
	}
	g.index[c] = len(g.groups)
	g.groups = append(g.groups, VenueClassification{DayClassification: c, Venues: []string{venue}})
}

// RemoveVenue drops venue from every group, discarding groups left empty.
func (g *Grouper) RemoveVenue(venue string) {
	out := g.groups[:0]
	for _, vc := range g.groups {
		vc.Venues = slices.DeleteFunc(vc.Venues, func(v string) bool { return v == venue })
		if len(vc.Venues) > 0 {
			out = append(out, vc)
		}
	}
	g.groups = out
	clear(g.index)
	for i, vc := range g.groups {
		g.index[vc.DayClassification] = i
	}
}

// Len returns the number of distinct classifications.
func (g *Grouper) Len() int { return len(g.groups) }

// Groups returns the groups in insertion order.
func (g *Grouper) Groups() []VenueClassification { return g.groups }

// dateGroups accumulates one Grouper per date.
type dateGroups map[civil.Date]*Grouper

func (m dateGroups) add(c DayClassification, venue string) {
	g, ok := m[c.Date]
	if !ok {
		g = NewGrouper()
		m[c.Date] = g
	}
	g.Add(c, venue)
}

// removeVenue drops venue on date d, discarding the date once no venue is
// left on it.
func (m dateGroups) removeVenue(d civil.Date, venue string) {
	g, ok := m[d]
	if !ok {
		return
	}
	g.RemoveVenue(venue)
	if g.Len() == 0 {
		delete(m, d)
	}
}

// sorted returns the dates ascending, or descending when reverse is set.
func (m dateGroups) sorted(reverse bool) []civil.Date {
	dates := make([]civil.Date, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, civil.Date.Compare)
	if reverse {
		slices.Reverse(dates)
	}
	return dates
}
