package provider

import (
	"errors"
	"fmt"
	"slices"

	"cloud.google.com/go/civil"
)

// Layered asks each provider in turn and returns the first calendar found.
type Layered []Provider

// Calendar implements Provider.
func (l Layered) Calendar(venue string) (*Calendar, error) {
	for _, p := range l {
		cal, err := p.Calendar(venue)
		if err == nil {
			return cal, nil
		}
		if !errors.Is(err, ErrUnknownVenue) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
}

// Overlay layers override facts on top of a base provider. Each date the
// override lists replaces whatever the base held on that date; venues known
// to only one side are served from that side alone.
type Overlay struct {
	Base      Provider
	Overrides Provider
}

// Calendar implements Provider.
func (o Overlay) Calendar(venue string) (*Calendar, error) {
	base, err := o.Base.Calendar(venue)
	if err != nil && !errors.Is(err, ErrUnknownVenue) {
		return nil, err
	}
	over, overErr := o.Overrides.Calendar(venue)
	if overErr != nil && !errors.Is(overErr, ErrUnknownVenue) {
		return nil, overErr
	}

	switch {
	case base == nil && over == nil:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	case over == nil:
		return base, nil
	case base == nil:
		return over, nil
	}
	return merge(base, over), nil
}

func merge(base, over *Calendar) *Calendar {
	out := base.Clone()
	out.Source = base.Source + "+" + over.Source
	if over.Name != "" {
		out.Name = over.Name
	}
	if over.Timezone != "" {
		out.Timezone = over.Timezone
	}
	if !over.Open.IsZero() {
		out.Open = over.Open
	}
	if !over.Close.IsZero() {
		out.Close = over.Close
	}
	if over.Weekmask != (Weekmask{}) {
		out.Weekmask = over.Weekmask
	}

	touched := make(map[civil.Date]bool)
	for _, h := range over.RegularHolidays {
		touched[h.Date] = true
	}
	for _, d := range over.AdhocHolidays {
		touched[d] = true
	}
	for _, group := range [][]SessionDates{over.SpecialOpens, over.SpecialOpensAdhoc, over.SpecialCloses, over.SpecialClosesAdhoc} {
		for _, s := range group {
			for _, n := range s.Dates {
				touched[n.Date] = true
			}
		}
	}

	out.RegularHolidays = append(slices.DeleteFunc(out.RegularHolidays, func(h NamedDate) bool { return touched[h.Date] }), over.RegularHolidays...)
	out.AdhocHolidays = append(slices.DeleteFunc(out.AdhocHolidays, func(d civil.Date) bool { return touched[d] }), over.AdhocHolidays...)
	out.SpecialOpens = mergeSessions(dropSessionDates(out.SpecialOpens, touched), over.SpecialOpens)
	out.SpecialOpensAdhoc = mergeSessions(dropSessionDates(out.SpecialOpensAdhoc, touched), over.SpecialOpensAdhoc)
	out.SpecialCloses = mergeSessions(dropSessionDates(out.SpecialCloses, touched), over.SpecialCloses)
	out.SpecialClosesAdhoc = mergeSessions(dropSessionDates(out.SpecialClosesAdhoc, touched), over.SpecialClosesAdhoc)

	if len(over.Metadata) > 0 && out.Metadata == nil {
		out.Metadata = make(map[civil.Date]Meta, len(over.Metadata))
	}
	for d, m := range over.Metadata {
		out.Metadata[d] = Meta{Tags: slices.Clone(m.Tags), Comment: m.Comment}
	}

	// Markers follow the merged holidays. Markers the override lists
	// explicitly replace derived ones on the same date.
	if out.derived {
		Derive(out, out.FirstYear, out.LastYear)
	}
	if !over.derived {
		out.QuarterlyExpiries = replaceByDate(out.QuarterlyExpiries, over.QuarterlyExpiries)
		out.MonthlyExpiries = replaceByDate(out.MonthlyExpiries, over.MonthlyExpiries)
		out.MonthEnds = replaceByDate(out.MonthEnds, over.MonthEnds)
	}
	return out
}

func mergeSessions(groups []SessionDates, extra []SessionDates) []SessionDates {
	for _, s := range extra {
		for _, n := range s.Dates {
			groups = addSessionDate(groups, s.Time, n)
		}
	}
	return groups
}

func replaceByDate(list, extra []NamedDate) []NamedDate {
	if len(extra) == 0 {
		return list
	}
	dates := make(map[civil.Date]bool, len(extra))
	for _, n := range extra {
		dates[n.Date] = true
	}
	list = slices.DeleteFunc(list, func(n NamedDate) bool { return dates[n.Date] })
	return append(list, extra...)
}

// Static serves a fixed set of calendars held in memory.
type Static map[string]*Calendar

// NewStatic builds a Static provider keyed by each calendar's venue.
func NewStatic(calendars ...*Calendar) Static {
	s := make(Static, len(calendars))
	for _, c := range calendars {
		s[c.Venue] = c
	}
	return s
}

// Calendar implements Provider.
func (s Static) Calendar(venue string) (*Calendar, error) {
	c, ok := s[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return c.Clone(), nil
}
