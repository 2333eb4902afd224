package provider

import (
	"time"

	"cloud.google.com/go/civil"
)

const (
	quarterlyExpiryName = "quarterly expiry"
	monthlyExpiryName   = "monthly expiry"
	monthEndName        = "last trading day of month"
)

// Derive computes quarterly expiries, monthly expiries and month ends for
// the years [first, last] from the calendar's weekmask and holidays,
// replacing whatever was there before.
func Derive(c *Calendar, first, last int) {
	c.QuarterlyExpiries = nil
	c.MonthlyExpiries = nil
	c.MonthEnds = nil

	for year := first; year <= last; year++ {
		for month := time.January; month <= time.December; month++ {
			expiry, ok := rollBack(c, thirdFriday(year, month), year, month)
			if ok {
				if month%3 == 0 {
					c.QuarterlyExpiries = append(c.QuarterlyExpiries, NamedDate{Date: expiry, Name: quarterlyExpiryName})
				} else {
					c.MonthlyExpiries = append(c.MonthlyExpiries, NamedDate{Date: expiry, Name: monthlyExpiryName})
				}
			}

			lastDay := civil.Date{Year: year, Month: month, Day: 1}.AddMonths(1).AddDays(-1)
			if end, ok := rollBack(c, lastDay, year, month); ok {
				c.MonthEnds = append(c.MonthEnds, NamedDate{Date: end, Name: monthEndName})
			}
		}
	}

	c.FirstYear = first
	c.LastYear = last
	c.derived = true
}

func thirdFriday(year int, month time.Month) civil.Date {
	d := civil.Date{Year: year, Month: month, Day: 1}
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	return d.AddDays(offset + 14)
}

// rollBack walks d backwards to the closest business day that is still in
// the given month.
func rollBack(c *Calendar, d civil.Date, year int, month time.Month) (civil.Date, bool) {
	for d.Year == year && d.Month == month {
		if c.IsBusinessDay(d) {
			return d, true
		}
		d = d.AddDays(-1)
	}
	return civil.Date{}, false
}

// yearSpan returns the smallest and largest year any holiday or session
// date of c falls in.
func yearSpan(c *Calendar) (int, int, bool) {
	first, last, found := 0, 0, false
	see := func(d civil.Date) {
		if !found || d.Year < first {
			first = d.Year
		}
		if !found || d.Year > last {
			last = d.Year
		}
		found = true
	}
	for _, h := range c.RegularHolidays {
		see(h.Date)
	}
	for _, group := range [][]SessionDates{c.SpecialOpens, c.SpecialCloses} {
		for _, s := range group {
			for _, d := range s.Dates {
				see(d.Date)
			}
		}
	}
	return first, last, found
}
