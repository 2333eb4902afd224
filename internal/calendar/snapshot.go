package calendar

import (
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

const badDateTag = "bad date"

// VenueFacts is an immutable snapshot of the provider facts the classifier
// needs for one venue. It owns all of its data and keeps no reference to
// the provider's calendar.
type VenueFacts struct {
	Venue    string
	Name     string
	Timezone string
	Location *time.Location
	Weekmask provider.Weekmask
	Open     civil.Time
	Close    civil.Time

	Holidays           []provider.NamedDate
	AdhocHolidays      []civil.Date
	SpecialOpens       []provider.SessionDates
	SpecialOpensAdhoc  []provider.SessionDates
	SpecialCloses      []provider.SessionDates
	SpecialClosesAdhoc []provider.SessionDates
	QuarterlyExpiries  []provider.NamedDate
	MonthlyExpiries    []provider.NamedDate
	MonthEnds          []provider.NamedDate

	meta map[civil.Date]provider.Meta
}

// newVenueFacts copies the narrow field list out of cal.
func newVenueFacts(cal *provider.Calendar) (*VenueFacts, error) {
	loc, err := time.LoadLocation(cal.Timezone)
	if err != nil {
		return nil, fmt.Errorf("venue %s: loading timezone %q: %w", cal.Venue, cal.Timezone, err)
	}

	// Clone so nothing in the snapshot aliases the provider's slices.
	own := cal.Clone()
	f := &VenueFacts{
		Venue:              own.Venue,
		Name:               own.Name,
		Timezone:           own.Timezone,
		Location:           loc,
		Weekmask:           own.Weekmask,
		Open:               own.Open,
		Close:              own.Close,
		Holidays:           own.RegularHolidays,
		AdhocHolidays:      own.AdhocHolidays,
		SpecialOpens:       own.SpecialOpens,
		SpecialOpensAdhoc:  own.SpecialOpensAdhoc,
		SpecialCloses:      own.SpecialCloses,
		SpecialClosesAdhoc: own.SpecialClosesAdhoc,
		QuarterlyExpiries:  own.QuarterlyExpiries,
		MonthlyExpiries:    own.MonthlyExpiries,
		MonthEnds:          own.MonthEnds,
		meta:               own.Metadata,
	}
	return f, nil
}

// IsWeekend reports whether d falls on a weekday the venue never trades.
func (f *VenueFacts) IsWeekend(d civil.Date) bool {
	return !f.Weekmask.IsBusinessDay(d)
}

// BadDates returns the dates within [start, end] tagged as bad, ascending.
func (f *VenueFacts) BadDates(start, end civil.Date) []civil.Date {
	var out []civil.Date
	for d, m := range f.meta {
		if d.Before(start) || d.After(end) || !m.HasTag(badDateTag) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, civil.Date.Compare)
	return out
}
