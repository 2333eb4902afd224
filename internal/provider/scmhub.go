package provider

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/scmhub/calendar"
)

const earlyCloseName = "early close"

// scmhubVenue describes a venue served by github.com/scmhub/calendar.
type scmhubVenue struct {
	build func(years ...int) *calendar.Calendar
	// timezone overrides the upstream location when it is wrong.
	timezone string
}

var scmhubVenues = map[string]scmhubVenue{
	"XNYS": {build: calendar.XNYS},
	"XNAS": {build: calendar.XNAS},
	"XTSE": {build: calendar.XTSE, timezone: "America/Toronto"},
	"XLON": {build: calendar.XLON},
	"XAMS": {build: calendar.XAMS},
	"XBRU": {build: calendar.XBRU},
	"XLIS": {build: calendar.XLIS},
	"XPAR": {build: calendar.XPAR},
	"XMIL": {build: calendar.XMIL},
	"XMAD": {build: calendar.XMAD},
	"XETR": {build: calendar.XETR},
	"XSWX": {build: calendar.XSWX},
}

// BME trades on the Madrid calendar.
var scmhubAliases = map[string]string{
	"BMEX": "XMAD",
}

// Scmhub derives calendar facts from github.com/scmhub/calendar. Holidays
// keep the library's names; early closing days become special closes at the
// session's early close time.
type Scmhub struct {
	firstYear int
	lastYear  int
}

// NewScmhub serves facts for the years [firstYear, lastYear].
func NewScmhub(firstYear, lastYear int) *Scmhub {
	return &Scmhub{firstYear: firstYear, lastYear: lastYear}
}

// Supports reports whether venue is served by Scmhub.
func (s *Scmhub) Supports(venue string) bool {
	_, ok := s.lookup(venue)
	return ok
}

func (s *Scmhub) lookup(venue string) (scmhubVenue, bool) {
	if target, ok := scmhubAliases[venue]; ok {
		venue = target
	}
	v, ok := scmhubVenues[venue]
	return v, ok
}

// Calendar implements Provider.
func (s *Scmhub) Calendar(venue string) (*Calendar, error) {
	v, ok := s.lookup(venue)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}

	// The upstream calendar panics outside its year range, so it gets one
	// spare year on each side for the holiday walk below.
	upstream := v.build(s.firstYear-1, s.lastYear+1)
	loc := upstream.Loc

	timezone := v.timezone
	if timezone == "" {
		timezone = loc.String()
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("loading timezone %s: %w", timezone, err)
	}

	session := upstream.Session()
	cal := &Calendar{
		Venue:    venue,
		Name:     upstream.Name,
		Source:   "scmhub",
		Timezone: timezone,
		Weekmask: DefaultWeekmask,
		Open:     sessionTime(session.Open),
		Close:    sessionTime(session.Close),
	}

	t := time.Date(s.firstYear-1, time.December, 31, 0, 0, 0, 0, loc)
	for {
		next, h := upstream.NextHoliday(t)
		if h == nil || next.Year() > s.lastYear {
			break
		}
		t = next
		d := civil.DateOf(next)
		if !cal.Weekmask.IsBusinessDay(d) {
			continue
		}
		cal.RegularHolidays = append(cal.RegularHolidays, NamedDate{Date: d, Name: h.Name})
	}

	var early []NamedDate
	d := civil.Date{Year: s.firstYear, Month: time.January, Day: 1}
	end := civil.Date{Year: s.lastYear, Month: time.December, Day: 31}
	for ; !d.After(end); d = d.AddDays(1) {
		if !cal.Weekmask.IsBusinessDay(d) {
			continue
		}
		midnight := d.In(loc)
		if upstream.IsEarlyClose(midnight) && !upstream.IsHoliday(midnight) {
			early = append(early, NamedDate{Date: d, Name: earlyCloseName})
		}
	}
	if len(early) > 0 {
		closeAt := session.EarlyClose
		if closeAt == 0 {
			closeAt = session.Close
		}
		cal.SpecialCloses = []SessionDates{{Time: sessionTime(closeAt), Dates: early}}
	}

	Derive(cal, s.firstYear, s.lastYear)
	return cal, nil
}

// sessionTime converts an offset from midnight to a wall clock time.
func sessionTime(offset time.Duration) civil.Time {
	return civil.Time{
		Hour:   int(offset / time.Hour),
		Minute: int(offset % time.Hour / time.Minute),
	}
}
