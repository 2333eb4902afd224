package calendar

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry([]Venue{{MIC: "XLON", Name: "London"}, {MIC: "XAMS", Name: "Amsterdam"}, {MIC: "XLON", Name: "LSE"}})

	assert.Equal(t, []string{"XAMS", "XLON"}, r.Venues())
	assert.Equal(t, map[string]string{"XAMS": "Amsterdam", "XLON": "LSE"}, r.Names())
	assert.True(t, r.Has("XAMS"))
	assert.False(t, r.Has("xams"))
	assert.Equal(t, 2, r.Len())

	v := r.Venues()
	v[0] = "changed"
	assert.Equal(t, "XAMS", r.Venues()[0])
}

func TestTimezones(t *testing.T) {
	s := newTestService(t, nil, Options{})

	std, err := s.Timezones("", true)
	require.NoError(t, err)
	assert.Equal(t, []TimezoneInfo{
		{Venue: "XAMS", Timezone: "CET"},
		{Venue: "XLON", Timezone: "WET"},
		{Venue: "XSWX", Timezone: "CET"},
	}, std)

	raw, err := s.Timezones("XLON", false)
	require.NoError(t, err)
	assert.Equal(t, []TimezoneInfo{{Venue: "XLON", Timezone: "Europe/London"}}, raw)

	_, err = s.Timezones("XXXX", true)
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestResolveZone(t *testing.T) {
	ams := &VenueFacts{Timezone: "Europe/Amsterdam", Location: mustLoad(t, "Europe/Amsterdam")}
	odd := &VenueFacts{Timezone: "Pacific/Auckland", Location: mustLoad(t, "Pacific/Auckland")}

	tests := []struct {
		name  string
		tz    string
		facts *VenueFacts
		want  string
	}{
		{"iana name", "Asia/Tokyo", ams, "Asia/Tokyo"},
		{"unique abbreviation", "JST", ams, "Asia/Tokyo"},
		{"lower case abbreviation", "sast", nil, "Africa/Johannesburg"},
		{"ambiguous abbreviation", "IST", ams, "CET"},
		{"ambiguous without venue", "IST", nil, "UTC"},
		{"empty with venue", "", ams, "CET"},
		{"empty without standard name", "", odd, "Pacific/Auckland"},
		{"empty without venue", "", nil, "UTC"},
		{"garbage", "nowhere", ams, "CET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveZone(tt.tz, tt.facts).Name)
		})
	}

	// The standard name keeps the venue's own clock.
	z := resolveZone("", ams)
	assert.Equal(t, "Europe/Amsterdam", z.Location.String())
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestGrouper(t *testing.T) {
	holiday := DayClassification{Date: date("2024-12-25"), Type: TypeHoliday, Name: "Christmas"}
	other := DayClassification{Date: date("2024-12-25"), Type: TypeHoliday, Name: "Noel"}

	g := NewGrouper()
	g.Add(holiday, "XAMS")
	g.Add(other, "XPAR")
	g.Add(holiday, "XLON")
	require.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"XAMS", "XLON"}, g.Groups()[0].Venues)

	g.RemoveVenue("XPAR")
	require.Equal(t, 1, g.Len())
	g.Add(other, "XBRU")
	require.Equal(t, 2, g.Len())
	assert.Equal(t, []string{"XBRU"}, g.Groups()[1].Venues)

	g.RemoveVenue("XAMS")
	g.RemoveVenue("XLON")
	g.RemoveVenue("XBRU")
	assert.Equal(t, 0, g.Len())
}

func TestWarm(t *testing.T) {
	s := newTestService(t, nil, Options{})
	assert.NoError(t, s.Warm())

	broken := NewService(
		NewRegistry([]Venue{{MIC: "XAMS"}, {MIC: "XNOP"}}),
		testFiles(t), Options{}, zapNop(t),
	)
	err := broken.Warm()
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

type flakyProvider struct {
	provider.Provider
	err error
}

func (f *flakyProvider) Calendar(venue string) (*provider.Calendar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Provider.Calendar(venue)
}

func TestRefreshFailure(t *testing.T) {
	p := &flakyProvider{Provider: testFiles(t)}
	s := newTestService(t, p, Options{})

	_, err := s.ClassifyDay("XLON", date("2024-12-25"), "")
	require.NoError(t, err)

	boom := errors.New("provider down")
	p.err = boom
	err = s.Refresh("XLON")
	assert.ErrorIs(t, err, boom)

	p.err = nil
	c, err := s.ClassifyDay("XLON", date("2024-12-25"), "")
	require.NoError(t, err)
	assert.Equal(t, TypeHoliday, c.Type)

	assert.NoError(t, s.RefreshAll())
}

func TestServiceMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := newTestService(t, nil, Options{Metrics: m})

	for range 3 {
		_, err := s.DayClassifications("XLON", 2024, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("timeline", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("timeline", "miss")))

	_, err := s.SearchSpecialDays(SearchQuery{Day: date("2024-01-01"), Forward: true, N: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchStatus.WithLabelValues("ok")))

	require.NoError(t, s.Refresh("XLON"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("XLON")))
}

func TestICS(t *testing.T) {
	s := newTestService(t, nil, Options{})

	out, err := s.ICS("XLON", 2024, "")
	require.NoError(t, err)

	days, err := s.DayClassifications("XLON", 2024, "")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.Equal(t, len(days), strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20241225")
	assert.Contains(t, out, "UID:XLON-2024-12-24-special-close@exchange-calendar-service")
	assert.Contains(t, out, "Trading closes at 12:30:00 WET.")

	_, err = s.ICS("XXXX", 2024, "")
	assert.ErrorIs(t, err, ErrUnknownVenue)
}
