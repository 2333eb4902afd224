package calendar

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dgnsrekt/exchange-calendar-service/internal/cache"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

const (
	adhocHolidayName      = "ad-hoc holiday"
	adhocSpecialCloseName = "ad-hoc special close"
	adhocSpecialOpenName  = "ad-hoc special open"
)

type timelineKey struct {
	venue    string
	year     int
	zone     string
	location string
}

// Classifier builds and caches per venue, per year classification
// timelines.
type Classifier struct {
	facts     *FactsCache
	timelines *cache.LFU[timelineKey, []DayClassification]
	metrics   *metrics.Metrics
}

// NewClassifier caches up to capacity timelines.
func NewClassifier(facts *FactsCache, capacity int, m *metrics.Metrics) *Classifier {
	return &Classifier{
		facts:     facts,
		timelines: cache.NewLFU[timelineKey, []DayClassification](capacity, m.Cache("timeline")),
		metrics:   m,
	}
}

// Facts returns the venue's snapshot.
func (c *Classifier) Facts(venue string) (*VenueFacts, error) {
	return c.facts.Get(venue)
}

// ClassifyYear returns the venue's timeline for year with session times in
// the zone tz resolves to. The returned slice is shared and must not be
// modified.
func (c *Classifier) ClassifyYear(venue string, year int, tz string) ([]DayClassification, error) {
	f, err := c.facts.Get(venue)
	if err != nil {
		return nil, err
	}
	zone := resolveZone(tz, f)

	key := timelineKey{venue: venue, year: year, zone: zone.Name, location: zone.Location.String()}
	return c.timelines.Get(key, func() ([]DayClassification, error) {
		defer c.metrics.ObserveCompute("classify_year", time.Now())
		return buildTimeline(f, year, zone), nil
	})
}

// ClassifyDay classifies a single day for venue.
func (c *Classifier) ClassifyDay(venue string, day civil.Date, tz string) (DayClassification, error) {
	f, err := c.facts.Get(venue)
	if err != nil {
		return DayClassification{}, err
	}
	// Weekends win over anything the timeline might hold for the date.
	if f.IsWeekend(day) {
		return weekendDay(day), nil
	}

	timeline, err := c.ClassifyYear(venue, day.Year, tz)
	if err != nil {
		return DayClassification{}, err
	}
	if i, ok := slices.BinarySearchFunc(timeline, day, func(e DayClassification, d civil.Date) int {
		return e.Date.Compare(d)
	}); ok {
		return timeline[i], nil
	}
	return regularDay(day), nil
}

// Invalidate drops every cached timeline of venue.
func (c *Classifier) Invalidate(venue string) {
	c.timelines.RemoveFunc(func(k timelineKey) bool { return k.venue == venue })
}

// buildTimeline computes the classification timeline of f for one year.
// Each date keeps the first classification collected for it, in the order
// holidays, special closes, special opens, witching, monthly expiries,
// month ends. Dates on weekend weekdays are dropped.
func buildTimeline(f *VenueFacts, year int, zone Zone) []DayClassification {
	b := timelineBuilder{year: year, seen: make(map[civil.Date]bool)}

	for _, h := range f.Holidays {
		b.add(DayClassification{Date: h.Date, Type: TypeHoliday, Name: h.Name})
	}
	for _, d := range f.AdhocHolidays {
		b.add(DayClassification{Date: d, Type: TypeHoliday, Name: adhocHolidayName})
	}

	b.addSessions(f, zone, TypeSpecialClose, f.SpecialCloses, "")
	b.addSessions(f, zone, TypeSpecialClose, f.SpecialClosesAdhoc, adhocSpecialCloseName)
	b.addSessions(f, zone, TypeSpecialOpen, f.SpecialOpens, "")
	b.addSessions(f, zone, TypeSpecialOpen, f.SpecialOpensAdhoc, adhocSpecialOpenName)

	for _, e := range f.QuarterlyExpiries {
		b.add(DayClassification{Date: e.Date, Type: TypeWitching, IsBusinessDay: true, Name: e.Name})
	}
	for _, e := range f.MonthlyExpiries {
		b.add(DayClassification{Date: e.Date, Type: TypeMonthlyExpiry, IsBusinessDay: true, Name: e.Name})
	}
	for _, e := range f.MonthEnds {
		b.add(DayClassification{Date: e.Date, Type: TypeMonthEnd, IsBusinessDay: true, Name: e.Name})
	}

	out := slices.DeleteFunc(b.days, func(d DayClassification) bool { return f.IsWeekend(d.Date) })
	slices.SortFunc(out, func(a, b DayClassification) int { return a.Date.Compare(b.Date) })
	return slices.Clip(out)
}

type timelineBuilder struct {
	year int
	seen map[civil.Date]bool
	days []DayClassification
}

func (b *timelineBuilder) add(d DayClassification) {
	if d.Date.Year != b.year || b.seen[d.Date] {
		return
	}
	b.seen[d.Date] = true
	b.days = append(b.days, d)
}

// addSessions adds special session days. A non-empty name overrides the
// names carried by the dates.
func (b *timelineBuilder) addSessions(f *VenueFacts, zone Zone, typ DayType, groups []provider.SessionDates, name string) {
	for _, g := range groups {
		for _, d := range g.Dates {
			if d.Date.Year != b.year {
				continue
			}
			n := d.Name
			if name != "" {
				n = name
			}
			b.add(DayClassification{
				Date:          d.Date,
				Type:          typ,
				IsBusinessDay: true,
				Name:          n,
				Time:          localTime(d.Date, g.Time, f.Location, zone.Location),
				Timezone:      zone.Name,
			})
		}
	}
}

// localTime converts the time of day t on date d from one zone into another.
func localTime(d civil.Date, t civil.Time, from, to *time.Location) civil.Time {
	if to == nil || from.String() == to.String() {
		return t
	}
	at := time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, from)
	return civil.TimeOf(at.In(to))
}
