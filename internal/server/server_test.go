package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

const testAPIKey = "secret-key"

type testEnv struct {
	server  *httptest.Server
	service *calendar.Service
	patched *provider.Patched
}

type testOptions struct {
	admin      bool
	adminRate  float64
	adminBurst int
	yearWindow int
}

func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	files, err := provider.NewFiles("testdata", logger)
	if err != nil {
		t.Fatalf("loading facts: %v", err)
	}
	patched := provider.NewPatched(files)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := calendar.NewRegistry([]calendar.Venue{
		{MIC: "XAMS", Name: "Euronext Amsterdam"},
		{MIC: "XLON", Name: "London Stock Exchange"},
		{MIC: "XSWX", Name: "SIX Swiss Exchange"},
	})
	service := calendar.NewService(registry, patched, calendar.Options{
		YearWindow: opts.yearWindow,
		Now:        func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
		Metrics:    m,
	}, logger)

	var updater *Updater
	if opts.admin {
		updater = NewUpdater(patched, service, testAPIKey, opts.adminRate, opts.adminBurst, m, logger)
	}

	srv := httptest.NewServer(NewRouter(NewServer(service, updater, reg, logger), logger))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, service: service, patched: patched}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestMics(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/mics")
	expectStatus(t, resp, body, http.StatusOK)

	mics := decode[[]string](t, body)
	if strings.Join(mics, ",") != "XAMS,XLON,XSWX" {
		t.Errorf("expected sorted venues, got %v", mics)
	}

	resp, body = env.get(t, "/v1/mic2name")
	expectStatus(t, resp, body, http.StatusOK)
	names := decode[map[string]string](t, body)
	if names["XLON"] != "London Stock Exchange" {
		t.Errorf("expected XLON name, got %q", names["XLON"])
	}
}

func TestTimezone(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/timezone")
	expectStatus(t, resp, body, http.StatusOK)
	zones := decode[[]calendar.TimezoneInfo](t, body)
	if len(zones) != 3 || zones[1].Venue != "XLON" || zones[1].Timezone != "WET" {
		t.Errorf("expected standardised zones, got %+v", zones)
	}

	resp, body = env.get(t, "/v1/timezone?mic=XLON&standardise=false")
	expectStatus(t, resp, body, http.StatusOK)
	zones = decode[[]calendar.TimezoneInfo](t, body)
	if len(zones) != 1 || zones[0].Timezone != "Europe/London" {
		t.Errorf("expected Europe/London, got %+v", zones)
	}

	resp, body = env.get(t, "/v1/timezone?mic=XXXX")
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = env.get(t, "/v1/timezone?standardise=maybe")
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestSpecialDays(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/special_days?mic=XLON&year=2024")
	expectStatus(t, resp, body, http.StatusOK)

	days := decode[[]calendar.DayClassification](t, body)
	var found bool
	for _, d := range days {
		if d.Date.String() == "2024-12-25" {
			found = true
			if d.Type != calendar.TypeHoliday || d.Name != "Christmas" {
				t.Errorf("expected Christmas holiday, got %+v", d)
			}
		}
	}
	if !found {
		t.Error("expected 2024-12-25 in special days")
	}

	tests := []struct {
		query  string
		status int
	}{
		{"", http.StatusBadRequest},
		{"?mic=XLON&year=abc", http.StatusBadRequest},
		{"?mic=XLON&year=10000", http.StatusBadRequest},
		{"?mic=XXXX", http.StatusNotFound},
		{"?mic=XLON", http.StatusOK},
	}
	for _, tt := range tests {
		resp, body := env.get(t, "/v1/special_days"+tt.query)
		if resp.StatusCode != tt.status {
			t.Errorf("query %q: expected %d, got %d: %s", tt.query, tt.status, resp.StatusCode, body)
		}
	}
}

func TestSpecialDaysCompressed(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/special_days?mic=XLON&year=2024", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Errorf("expected gzip encoding, got %q", got)
	}
}

func TestSpecialDaysICS(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/special_days.ics?mic=XAMS&year=2024")
	expectStatus(t, resp, body, http.StatusOK)

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("expected text/calendar, got %q", ct)
	}
	if !strings.Contains(string(body), "BEGIN:VCALENDAR") || !strings.Contains(string(body), "DTSTART;VALUE=DATE:20241225") {
		t.Errorf("unexpected feed: %s", body)
	}
}

func TestClassifyDay(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/classify_day?mic=XLON&day=2024-12-24")
	expectStatus(t, resp, body, http.StatusOK)

	var single map[string]any
	if err := json.Unmarshal(body, &single); err != nil {
		t.Fatal(err)
	}
	if single["type"] != "special close" || single["time"] != "12:30:00" || single["tz"] != "WET" {
		t.Errorf("unexpected classification: %s", body)
	}

	resp, body = env.get(t, "/v1/classify_day?mic=XLON&day=2024-12-21")
	expectStatus(t, resp, body, http.StatusOK)
	if strings.Contains(string(body), `"time"`) {
		t.Errorf("weekend should carry no session time: %s", body)
	}

	resp, body = env.get(t, "/v1/classify_day?day=2024-12-25")
	expectStatus(t, resp, body, http.StatusOK)
	groups := decode[[]calendar.VenueClassification](t, body)
	if len(groups) != 1 || len(groups[0].Venues) != 3 {
		t.Errorf("expected every venue closed on Christmas, got %s", body)
	}

	resp, body = env.get(t, "/v1/classify_day?day=2024-13-01")
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestNextSpecialDays(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/next_special_days?day=2024-12-20&mic=XLON&types=holiday&n=2")
	expectStatus(t, resp, body, http.StatusOK)

	groups := decode[[]calendar.DateGroup](t, body)
	if len(groups) != 2 || groups[0].Date.String() != "2024-12-25" || groups[1].Date.String() != "2024-12-26" {
		t.Fatalf("expected Christmas and Boxing Day, got %s", body)
	}
	if v := groups[0].Classifications[0].Venues; len(v) != 1 || v[0] != "XLON" {
		t.Errorf("expected XLON only, got %v", v)
	}

	tests := []struct {
		query  string
		status int
	}{
		{"?n=0", http.StatusBadRequest},
		{"?n=abc", http.StatusBadRequest},
		{"?types=bogus", http.StatusBadRequest},
		{"?types=regular", http.StatusBadRequest},
		{"?range=-1", http.StatusBadRequest},
		{"?mic=XXXX", http.StatusNotFound},
		{"?types=special_close,holiday&mic=XLON,XAMS", http.StatusOK},
	}
	for _, tt := range tests {
		resp, body := env.get(t, "/v1/next_special_days"+tt.query)
		if resp.StatusCode != tt.status {
			t.Errorf("query %q: expected %d, got %d: %s", tt.query, tt.status, resp.StatusCode, body)
		}
	}
}

func TestNextSpecialDaysRangeExceeded(t *testing.T) {
	env := newTestEnv(t, testOptions{yearWindow: 1})

	resp, body := env.get(t, "/v1/next_special_days?day=2025-12-01&mic=XLON&types=holiday&n=5")
	expectStatus(t, resp, body, http.StatusRequestedRangeNotSatisfiable)

	groups := decode[[]calendar.DateGroup](t, body)
	if len(groups) != 2 {
		t.Errorf("expected the two remaining 2025 holidays, got %s", body)
	}
}

func TestNextBusinessDays(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/v1/next_business_days?day=2024-12-24&mic=XLON&n=2&inclusive=false")
	expectStatus(t, resp, body, http.StatusOK)

	groups := decode[[]calendar.DateGroup](t, body)
	if len(groups) != 2 || groups[0].Date.String() != "2024-12-27" || groups[1].Date.String() != "2024-12-30" {
		t.Errorf("expected 2024-12-27 and 2024-12-30, got %s", body)
	}

	resp, body = env.get(t, "/v1/next_business_days?types=holiday")
	expectStatus(t, resp, body, http.StatusBadRequest)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.get(t, "/health")
	expectStatus(t, resp, body, http.StatusOK)
	health := decode[healthResponse](t, body)
	if health.Status != "ok" || health.Venues != 3 || health.Today != "2024-06-01" {
		t.Errorf("unexpected health: %+v", health)
	}

	env.get(t, "/v1/special_days?mic=XLON&year=2024")
	resp, body = env.get(t, "/metrics")
	expectStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), "exchange_calendar_cache_requests_total") {
		t.Errorf("expected cache metrics, got %s", body)
	}
}

func TestUpdateNotMounted(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, err := http.Post(env.server.URL+"/update", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("update should not be served without an admin key")
	}
}

func TestMaskQuery(t *testing.T) {
	if got := maskQuery("key=abcdefgh&mic=XLON"); got != "key=abcd%2A%2A%2A%2A&mic=XLON" {
		t.Errorf("unexpected masked query: %s", got)
	}
	if got := maskKey("abc"); got != "****" {
		t.Errorf("expected short key to be fully masked, got %s", got)
	}
	if got := maskQuery(""); got != "" {
		t.Errorf("expected empty query, got %s", got)
	}
}
