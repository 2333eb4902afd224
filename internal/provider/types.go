package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"cloud.google.com/go/civil"
)

var (
	ErrUnknownVenue     = errors.New("unknown venue")
	ErrInvalidChangeSet = errors.New("invalid change set")
	ErrInvalidFacts     = errors.New("invalid calendar facts")
)

// Provider supplies raw calendar facts for a venue.
//
// Every call returns a freshly built Calendar owned by the caller. Providers
// must not hand out references to their own internal state.
type Provider interface {
	Calendar(venue string) (*Calendar, error)
}

// Weekmask marks business weekdays, Monday first.
type Weekmask [7]bool

// DefaultWeekmask is Monday to Friday.
var DefaultWeekmask = Weekmask{true, true, true, true, true, false, false}

// ParseWeekmask parses a seven character 0/1 string such as "1111100".
func ParseWeekmask(s string) (Weekmask, error) {
	var w Weekmask
	if len(s) != 7 {
		return w, fmt.Errorf("weekmask %q: must have 7 characters", s)
	}
	for i, c := range s {
		switch c {
		case '1':
			w[i] = true
		case '0':
		default:
			return w, fmt.Errorf("weekmask %q: invalid character %q", s, c)
		}
	}
	return w, nil
}

// IsBusinessDay reports whether the weekday of d is a business weekday.
func (w Weekmask) IsBusinessDay(d civil.Date) bool {
	return w[(int(d.Weekday())+6)%7]
}

func (w Weekmask) String() string {
	var sb strings.Builder
	for _, b := range w {
		if b {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// NamedDate is a date carrying a human readable name.
type NamedDate struct {
	Date civil.Date `yaml:"date" json:"date"`
	Name string     `yaml:"name" json:"name"`
}

// SessionDates groups dates sharing one non-standard session time.
type SessionDates struct {
	Time  civil.Time  `yaml:"time" json:"time"`
	Dates []NamedDate `yaml:"dates" json:"dates"`
}

// Meta is out-of-band metadata for a single date.
type Meta struct {
	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Comment string   `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (m Meta) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// DatedMeta is Meta together with the date it applies to.
type DatedMeta struct {
	Date civil.Date
	Meta Meta
}

// Calendar is the full set of facts a provider knows about one venue.
type Calendar struct {
	Venue    string
	Name     string
	Source   string
	Timezone string
	Weekmask Weekmask
	Open     civil.Time
	Close    civil.Time

	RegularHolidays    []NamedDate
	AdhocHolidays      []civil.Date
	SpecialOpens       []SessionDates
	SpecialOpensAdhoc  []SessionDates
	SpecialCloses      []SessionDates
	SpecialClosesAdhoc []SessionDates
	QuarterlyExpiries  []NamedDate
	MonthlyExpiries    []NamedDate
	MonthEnds          []NamedDate
	Metadata           map[civil.Date]Meta

	// FirstYear and LastYear bound the years derived markers were computed for.
	FirstYear int
	LastYear  int

	derived bool
}

// Meta returns the metadata entries dated within [start, end], sorted by date.
func (c *Calendar) Meta(start, end civil.Date) []DatedMeta {
	var out []DatedMeta
	for d, m := range c.Metadata {
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, DatedMeta{Date: d, Meta: m})
	}
	slices.SortFunc(out, func(a, b DatedMeta) int { return a.Date.Compare(b.Date) })
	return out
}

// IsHoliday reports whether d is a regular or ad-hoc holiday.
func (c *Calendar) IsHoliday(d civil.Date) bool {
	for _, h := range c.RegularHolidays {
		if h.Date == d {
			return true
		}
	}
	return slices.Contains(c.AdhocHolidays, d)
}

// IsBusinessDay reports whether d is a trading day according to weekmask and holidays.
func (c *Calendar) IsBusinessDay(d civil.Date) bool {
	return c.Weekmask.IsBusinessDay(d) && !c.IsHoliday(d)
}

// Clone returns a deep copy of c.
func (c *Calendar) Clone() *Calendar {
	out := *c
	out.RegularHolidays = slices.Clone(c.RegularHolidays)
	out.AdhocHolidays = slices.Clone(c.AdhocHolidays)
	out.SpecialOpens = cloneSessions(c.SpecialOpens)
	out.SpecialOpensAdhoc = cloneSessions(c.SpecialOpensAdhoc)
	out.SpecialCloses = cloneSessions(c.SpecialCloses)
	out.SpecialClosesAdhoc = cloneSessions(c.SpecialClosesAdhoc)
	out.QuarterlyExpiries = slices.Clone(c.QuarterlyExpiries)
	out.MonthlyExpiries = slices.Clone(c.MonthlyExpiries)
	out.MonthEnds = slices.Clone(c.MonthEnds)
	if c.Metadata != nil {
		out.Metadata = make(map[civil.Date]Meta, len(c.Metadata))
		for d, m := range c.Metadata {
			out.Metadata[d] = Meta{Tags: slices.Clone(m.Tags), Comment: m.Comment}
		}
	}
	return &out
}

func cloneSessions(in []SessionDates) []SessionDates {
	if in == nil {
		return nil
	}
	out := make([]SessionDates, len(in))
	for i, s := range in {
		out[i] = SessionDates{Time: s.Time, Dates: slices.Clone(s.Dates)}
	}
	return out
}
