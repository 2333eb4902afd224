package calendar

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

var testVenues = []Venue{
	{MIC: "XAMS", Name: "Euronext Amsterdam"},
	{MIC: "XLON", Name: "London Stock Exchange"},
	{MIC: "XSWX", Name: "SIX Swiss Exchange"},
}

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func clockAt(s string) func() time.Time {
	d := date(s)
	return func() time.Time {
		return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
	}
}

func ptr[T any](v T) *T { return &v }

func testFiles(t *testing.T) *provider.Files {
	t.Helper()
	f, err := provider.NewFiles("testdata", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("loading testdata: %v", err)
	}
	return f
}

func newTestService(t *testing.T, p provider.Provider, opts Options) *Service {
	t.Helper()
	if p == nil {
		p = testFiles(t)
	}
	if opts.Now == nil {
		opts.Now = clockAt("2024-06-01")
	}
	return NewService(NewRegistry(testVenues), p, opts, zaptest.NewLogger(t))
}

func findDay(days []DayClassification, d civil.Date) (DayClassification, bool) {
	for _, c := range days {
		if c.Date == d {
			return c, true
		}
	}
	return DayClassification{}, false
}

func dates(groups []DateGroup) []civil.Date {
	out := make([]civil.Date, len(groups))
	for i, g := range groups {
		out[i] = g.Date
	}
	return out
}

func zapNop(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}
