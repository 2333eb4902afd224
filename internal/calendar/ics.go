package calendar

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const icsProductID = "-//exchange-calendar-service//special days//EN"

// ICS renders the special days of venue in year as an iCalendar feed with
// one all-day event per day.
func (s *Service) ICS(venue string, year int, tz string) (string, error) {
	days, err := s.DayClassifications(venue, year, tz)
	if err != nil {
		return "", err
	}
	name := s.registry.names[venue]
	if name == "" {
		name = venue
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetName(fmt.Sprintf("%s special days", name))
	cal.SetXWRCalName(fmt.Sprintf("%s special days", name))

	stamp := s.now().UTC()
	for _, d := range days {
		day := time.Date(d.Date.Year, d.Date.Month, d.Date.Day, 0, 0, 0, 0, time.UTC)

		event := cal.AddEvent(fmt.Sprintf("%s-%s-%s@exchange-calendar-service",
			venue, d.Date, strings.ReplaceAll(string(d.Type), " ", "-")))
		event.SetDtStampTime(stamp)
		event.SetAllDayStartAt(day)
		event.SetAllDayEndAt(day.AddDate(0, 0, 1))
		event.SetSummary(eventSummary(venue, d))
		event.SetDescription(eventDescription(d))
		event.AddCategory(string(d.Type))
	}
	return cal.Serialize(), nil
}

func eventSummary(venue string, d DayClassification) string {
	if d.Name == "" {
		return fmt.Sprintf("%s: %s", venue, d.Type)
	}
	return fmt.Sprintf("%s: %s (%s)", venue, d.Name, d.Type)
}

func eventDescription(d DayClassification) string {
	switch {
	case d.Type == TypeSpecialOpen:
		return fmt.Sprintf("Trading opens at %s %s.", d.Time, d.Timezone)
	case d.Type == TypeSpecialClose:
		return fmt.Sprintf("Trading closes at %s %s.", d.Time, d.Timezone)
	case d.IsBusinessDay:
		return "Regular trading hours."
	default:
		return "Closed."
	}
}
