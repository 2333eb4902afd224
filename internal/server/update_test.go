package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

func (e *testEnv) post(t *testing.T, key, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/update", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /update: %v", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func (e *testEnv) classify(t *testing.T, venue, day string) calendar.DayClassification {
	t.Helper()
	d, err := civil.ParseDate(day)
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.service.ClassifyDay(venue, d, "")
	if err != nil {
		t.Fatalf("classifying %s %s: %v", venue, day, err)
	}
	return c
}

const addHoliday = `{"XLON": {"add": {"2024-12-27": {"type": "holiday", "name": "Extra Holiday"}}}}`

func TestUpdateAuth(t *testing.T) {
	env := newTestEnv(t, testOptions{admin: true})

	resp, body := env.post(t, "", addHoliday)
	expectStatus(t, resp, body, http.StatusUnauthorized)

	resp, body = env.post(t, "wrong", addHoliday)
	expectStatus(t, resp, body, http.StatusUnauthorized)

	if len(env.patched.Changes()) != 0 {
		t.Error("rejected update must not change anything")
	}
	if c := env.classify(t, "XLON", "2024-12-27"); c.Type != calendar.TypeRegular {
		t.Errorf("expected regular day, got %s", c.Type)
	}
}

func TestUpdateLifecycle(t *testing.T) {
	env := newTestEnv(t, testOptions{admin: true})

	// Warm the caches so the refresh has something to drop.
	if c := env.classify(t, "XLON", "2024-12-27"); c.Type != calendar.TypeRegular {
		t.Fatalf("expected regular day, got %s", c.Type)
	}

	resp, body := env.post(t, testAPIKey, addHoliday)
	expectStatus(t, resp, body, http.StatusOK)
	res := decode[UpdateResult](t, body)
	if res.Status != UpdateApplied || len(res.Added) != 1 || res.Added[0] != "XLON" || res.ID == "" {
		t.Errorf("unexpected result: %+v", res)
	}
	c := env.classify(t, "XLON", "2024-12-27")
	if c.Type != calendar.TypeHoliday || c.Name != "Extra Holiday" {
		t.Errorf("expected the added holiday, got %+v", c)
	}

	// Same changes again are a no-op.
	resp, body = env.post(t, testAPIKey, addHoliday)
	expectStatus(t, resp, body, http.StatusOK)
	if res := decode[UpdateResult](t, body); res.Status != UpdateNoChanges {
		t.Errorf("expected no changes, got %+v", res)
	}

	resp, body = env.post(t, testAPIKey, `{"XLON": {"remove": ["2024-12-26"]}, "XAMS": {"meta": {"2024-12-27": {"tags": ["bad date"]}}}}`)
	expectStatus(t, resp, body, http.StatusOK)
	res = decode[UpdateResult](t, body)
	if len(res.Added) != 1 || res.Added[0] != "XAMS" || len(res.Updated) != 1 || res.Updated[0] != "XLON" {
		t.Errorf("unexpected result: %+v", res)
	}
	if c := env.classify(t, "XLON", "2024-12-27"); c.Type != calendar.TypeRegular {
		t.Errorf("replaced change set should drop the extra holiday, got %s", c.Type)
	}
	if c := env.classify(t, "XLON", "2024-12-26"); c.Type != calendar.TypeRegular {
		t.Errorf("removed holiday should be a regular day, got %s", c.Type)
	}

	resp, body = env.post(t, testAPIKey, `{}`)
	expectStatus(t, resp, body, http.StatusOK)
	res = decode[UpdateResult](t, body)
	if strings.Join(res.Removed, ",") != "XAMS,XLON" {
		t.Errorf("expected both venues removed, got %+v", res)
	}
	if c := env.classify(t, "XLON", "2024-12-26"); c.Type != calendar.TypeHoliday {
		t.Errorf("expected Boxing Day back, got %s", c.Type)
	}
}

func TestUpdateInvalid(t *testing.T) {
	env := newTestEnv(t, testOptions{admin: true})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"XLON":`},
		{"unknown field", `{"XLON": {"drop": []}}`},
		{"unknown venue", `{"XXXX": {"remove": ["2024-12-26"]}}`},
		{"missing time", `{"XLON": {"add": {"2024-12-27": {"type": "special_close", "name": "Early"}}}}`},
		{"unknown type", `{"XLON": {"add": {"2024-12-27": {"type": "party", "name": "Party"}}}}`},
		{"add and remove", `{"XLON": {"add": {"2024-12-27": {"type": "holiday", "name": "X"}}, "remove": ["2024-12-27"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(t, testAPIKey, tt.body)
			expectStatus(t, resp, body, http.StatusBadRequest)
		})
	}
	if len(env.patched.Changes()) != 0 {
		t.Error("invalid updates must not change anything")
	}
}

func TestUpdateRateLimited(t *testing.T) {
	env := newTestEnv(t, testOptions{admin: true, adminRate: 0.001, adminBurst: 1})

	resp, body := env.post(t, testAPIKey, `{}`)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = env.post(t, testAPIKey, addHoliday)
	expectStatus(t, resp, body, http.StatusTooManyRequests)
	if len(env.patched.Changes()) != 0 {
		t.Error("limited update must not change anything")
	}
}

type failingStore struct {
	provider.ChangeSets
}

func (f *failingStore) Changes() provider.ChangeSets { return f.ChangeSets }

func (f *failingStore) SetChanges(provider.ChangeSets) error {
	return errors.New("store unavailable")
}

func TestUpdateInProgress(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	u := NewUpdater(&failingStore{}, env.service, testAPIKey, 0, 1, nil, zap.NewNop())

	u.updateMu.Lock()
	_, err := u.Update(provider.ChangeSets{})
	u.updateMu.Unlock()
	if !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("expected ErrUpdateInProgress, got %v", err)
	}

	_, err = u.Update(provider.ChangeSets{"XLON": {Remove: []civil.Date{{Year: 2024, Month: 12, Day: 26}}}})
	if !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("expected store failure to be reported as ErrInvalidUpdate, got %v", err)
	}
}
