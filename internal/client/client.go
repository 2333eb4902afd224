package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

const apiKeyHeader = "X-API-KEY"

// Client interface for testability
type Client interface {
	Venues(ctx context.Context) ([]string, error)
	VenueNames(ctx context.Context) (map[string]string, error)
	Timezones(ctx context.Context, venue string, standardise bool) ([]calendar.TimezoneInfo, error)
	SpecialDays(ctx context.Context, venue string, year int, tz string) ([]calendar.DayClassification, error)
	SpecialDaysICS(ctx context.Context, venue string, year int, tz string) (string, error)
	ClassifyDay(ctx context.Context, venue string, day civil.Date, tz string) (calendar.DayClassification, error)
	ClassifyDayAll(ctx context.Context, day civil.Date, tz string) ([]calendar.VenueClassification, error)
	NextSpecialDays(ctx context.Context, q SearchParams) ([]calendar.DateGroup, error)
	NextBusinessDays(ctx context.Context, q SearchParams) ([]calendar.DateGroup, error)
	Update(ctx context.Context, changes provider.ChangeSets) (*UpdateResult, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// SearchParams are the optional parameters of the search routes. Zero
// values are left to the server defaults.
type SearchParams struct {
	Day          *civil.Date
	Inclusive    *bool
	Forward      *bool
	Venues       []string
	Types        []calendar.DayType
	N            int
	Range        *int
	Timezone     string
	SkipBadDates bool
}

func (p SearchParams) values() url.Values {
	v := url.Values{}
	if p.Day != nil {
		v.Set("day", p.Day.String())
	}
	if p.Inclusive != nil {
		v.Set("inclusive", strconv.FormatBool(*p.Inclusive))
	}
	if p.Forward != nil {
		v.Set("forward", strconv.FormatBool(*p.Forward))
	}
	for _, venue := range p.Venues {
		v.Add("mic", venue)
	}
	for _, t := range p.Types {
		v.Add("types", string(t))
	}
	if p.N > 0 {
		v.Set("n", strconv.Itoa(p.N))
	}
	if p.Range != nil {
		v.Set("range", strconv.Itoa(*p.Range))
	}
	if p.Timezone != "" {
		v.Set("tz", p.Timezone)
	}
	if p.SkipBadDates {
		v.Set("skip_bad_dates", "true")
	}
	return v
}

// UpdateResult mirrors the server's response to an update.
type UpdateResult struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(baseURL, apiKey string, ratePerSec float64, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = max(1, int(ratePerSec*2))
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(limit, burst),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) Venues(ctx context.Context) ([]string, error) {
	var out []string
	_, err := c.getJSON(ctx, "/v1/mics", nil, &out)
	return out, err
}

func (c *HTTPClient) VenueNames(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	_, err := c.getJSON(ctx, "/v1/mic2name", nil, &out)
	return out, err
}

func (c *HTTPClient) Timezones(ctx context.Context, venue string, standardise bool) ([]calendar.TimezoneInfo, error) {
	v := url.Values{}
	if venue != "" {
		v.Set("mic", venue)
	}
	v.Set("standardise", strconv.FormatBool(standardise))

	var out []calendar.TimezoneInfo
	_, err := c.getJSON(ctx, "/v1/timezone", v, &out)
	return out, err
}

func yearQuery(venue string, year int, tz string) url.Values {
	v := url.Values{}
	v.Set("mic", venue)
	if year != 0 {
		v.Set("year", strconv.Itoa(year))
	}
	if tz != "" {
		v.Set("tz", tz)
	}
	return v
}

func (c *HTTPClient) SpecialDays(ctx context.Context, venue string, year int, tz string) ([]calendar.DayClassification, error) {
	var out []calendar.DayClassification
	_, err := c.getJSON(ctx, "/v1/special_days", yearQuery(venue, year, tz), &out)
	return out, err
}

func (c *HTTPClient) SpecialDaysICS(ctx context.Context, venue string, year int, tz string) (string, error) {
	_, body, err := c.do(ctx, http.MethodGet, "/v1/special_days.ics", yearQuery(venue, year, tz), nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func dayQuery(venue string, day civil.Date, tz string) url.Values {
	v := url.Values{}
	v.Set("day", day.String())
	if venue != "" {
		v.Set("mic", venue)
	}
	if tz != "" {
		v.Set("tz", tz)
	}
	return v
}

func (c *HTTPClient) ClassifyDay(ctx context.Context, venue string, day civil.Date, tz string) (calendar.DayClassification, error) {
	var out calendar.DayClassification
	_, err := c.getJSON(ctx, "/v1/classify_day", dayQuery(venue, day, tz), &out)
	return out, err
}

func (c *HTTPClient) ClassifyDayAll(ctx context.Context, day civil.Date, tz string) ([]calendar.VenueClassification, error) {
	var out []calendar.VenueClassification
	_, err := c.getJSON(ctx, "/v1/classify_day", dayQuery("", day, tz), &out)
	return out, err
}

// NextSpecialDays searches special days. When the search leaves the
// service's year window the partial result is returned together with
// ErrRangeExceeded.
func (c *HTTPClient) NextSpecialDays(ctx context.Context, q SearchParams) ([]calendar.DateGroup, error) {
	return c.search(ctx, "/v1/next_special_days", q)
}

// NextBusinessDays searches business days, with the same partial result
// semantics as NextSpecialDays.
func (c *HTTPClient) NextBusinessDays(ctx context.Context, q SearchParams) ([]calendar.DateGroup, error) {
	return c.search(ctx, "/v1/next_business_days", q)
}

func (c *HTTPClient) search(ctx context.Context, path string, q SearchParams) ([]calendar.DateGroup, error) {
	var out []calendar.DateGroup
	status, err := c.getJSON(ctx, path, q.values(), &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusRequestedRangeNotSatisfiable {
		return out, ErrRangeExceeded
	}
	return out, nil
}

// Update replaces the change sets applied by the service.
func (c *HTTPClient) Update(ctx context.Context, changes provider.ChangeSets) (*UpdateResult, error) {
	body, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("encoding change sets: %w", err)
	}

	_, resp, err := c.do(ctx, http.MethodPost, "/update", nil, body)
	if err != nil {
		return nil, err
	}

	var out UpdateResult
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) (int, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status, fmt.Errorf("decoding response: %w", err)
	}
	return status, nil
}

// do performs a request with rate limiting and retries. It returns the body
// of any 200 or 416 response and maps other statuses onto sentinel errors.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte) (int, []byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", target))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return 0, nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			return resp.StatusCode, respBody, nil
		case resp.StatusCode == http.StatusNotFound:
			return resp.StatusCode, nil, fmt.Errorf("%w: %s", ErrNotFound, errorMessage(respBody))
		case resp.StatusCode == http.StatusBadRequest:
			return resp.StatusCode, nil, fmt.Errorf("%w: %s", ErrBadRequest, errorMessage(respBody))
		case resp.StatusCode == http.StatusUnauthorized:
			return resp.StatusCode, nil, ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d: %s", resp.StatusCode, errorMessage(respBody))
			continue
		default:
			return resp.StatusCode, nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return 0, nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
