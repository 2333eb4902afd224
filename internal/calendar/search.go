package calendar

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/cache"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
)

// Status is the terminal state of a search.
type Status string

const (
	StatusOK Status = "ok"
	// StatusRangeExceeded means the search left the supported year window
	// before finding enough days. The result holds what was found.
	StatusRangeExceeded Status = "range exceeded"
)

// SearchQuery describes a relative day search.
type SearchQuery struct {
	Day       civil.Date
	Inclusive bool
	Forward   bool
	// Venues limits the search; empty means every configured venue.
	Venues []string
	Types  TypeSet
	N      int
	// Range, when set, is the maximum distance in days from Day.
	Range        *int
	Timezone     string
	SkipBadDates bool
}

// SearchResult is the outcome of a search. Days are ordered in search
// direction.
type SearchResult struct {
	Days   []DateGroup `json:"days"`
	Status Status      `json:"status"`
}

type searchKey struct {
	day          civil.Date
	inclusive    bool
	forward      bool
	venues       string
	types        TypeSet
	n            int
	hasRange     bool
	rangeDays    int
	timezone     string
	skipBadDates bool
}

// Engine runs year by year searches over classification timelines.
type Engine struct {
	classifier *Classifier
	registry   *Registry
	yearWindow int
	now        func() time.Time
	results    *cache.LFU[searchKey, SearchResult]
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEngine returns an Engine caching up to capacity results. Searches stop
// with StatusRangeExceeded once they would scan a year more than yearWindow
// years away from the current one.
func NewEngine(classifier *Classifier, registry *Registry, yearWindow, capacity int, now func() time.Time, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		registry:   registry,
		yearWindow: yearWindow,
		now:        now,
		results:    cache.NewLFU[searchKey, SearchResult](capacity, m.Cache("search")),
		metrics:    m,
		logger:     logger,
	}
}

// Search runs q. Venues are normalised to a sorted, duplicate free list
// before the cache is consulted.
func (e *Engine) Search(q SearchQuery) (SearchResult, error) {
	if q.N < 1 {
		return SearchResult{}, fmt.Errorf("%w: n must be at least 1, got %d", ErrInvalidQuery, q.N)
	}
	if q.Range != nil && *q.Range < 0 {
		return SearchResult{}, fmt.Errorf("%w: range must not be negative, got %d", ErrInvalidQuery, *q.Range)
	}
	if q.Types.IsEmpty() {
		return SearchResult{}, fmt.Errorf("%w: no day types requested", ErrInvalidQuery)
	}

	venues, err := e.venues(q.Venues)
	if err != nil {
		return SearchResult{}, err
	}
	q.Venues = venues

	key := searchKey{
		day:          q.Day,
		inclusive:    q.Inclusive,
		forward:      q.Forward,
		venues:       strings.Join(venues, ","),
		types:        q.Types,
		n:            q.N,
		timezone:     q.Timezone,
		skipBadDates: q.SkipBadDates,
	}
	if q.Range != nil {
		key.hasRange = true
		key.rangeDays = *q.Range
	}

	return e.results.Get(key, func() (SearchResult, error) {
		defer e.metrics.ObserveCompute("search", time.Now())
		res, err := e.search(q)
		if err == nil {
			e.metrics.RecordSearch(string(res.Status))
		}
		return res, err
	})
}

// Invalidate drops every cached result.
func (e *Engine) Invalidate() {
	e.results.Purge()
}

func (e *Engine) venues(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return e.registry.Venues(), nil
	}
	out := slices.Clone(requested)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, v := range out {
		if !e.registry.Has(v) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, v)
		}
	}
	return out, nil
}

func (e *Engine) search(q SearchQuery) (SearchResult, error) {
	step := 1
	if !q.Forward {
		step = -1
	}

	var threshold civil.Date
	if q.Range != nil {
		threshold = q.Day.AddDays(step * *q.Range)
	}
	current := e.now().Year()
	minYear, maxYear := current-e.yearWindow, current+e.yearWindow

	res := SearchResult{Days: []DateGroup{}, Status: StatusOK}
	needed := q.N

	for year := q.Day.Year; needed > 0; {
		groups, err := e.scanYear(q, year)
		if err != nil {
			return SearchResult{}, err
		}

		if q.SkipBadDates && !q.Forward && len(groups) > 0 {
			e.removeBadDates(groups, q.Venues)
		}

		for _, d := range groups.sorted(!q.Forward) {
			if needed == 0 {
				break
			}
			if q.Range != nil && beyond(d, threshold, q.Forward) {
				continue
			}
			res.Days = append(res.Days, DateGroup{Date: d, Classifications: groups[d].Groups()})
			needed--
		}

		year += step
		if q.Range != nil {
			first := civil.Date{Year: year, Month: time.January, Day: 1}
			if !q.Forward {
				first = civil.Date{Year: year, Month: time.December, Day: 31}
			}
			if beyond(first, threshold, q.Forward) {
				break
			}
		}
		if needed > 0 && (year < minYear || year > maxYear) {
			res.Status = StatusRangeExceeded
			break
		}
	}

	e.logger.Debug("search finished",
		zap.Stringer("day", q.Day),
		zap.Bool("forward", q.Forward),
		zap.Stringer("types", q.Types),
		zap.Int("requested", q.N),
		zap.Int("found", len(res.Days)),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}

// beyond reports whether d lies past threshold in the search direction.
func beyond(d, threshold civil.Date, forward bool) bool {
	if forward {
		return d.After(threshold)
	}
	return d.Before(threshold)
}

// scanYear collects the matching classifications of every queried venue for
// one year, restricted to the query's side of q.Day on the starting year.
func (e *Engine) scanYear(q SearchQuery, year int) (dateGroups, error) {
	groups := make(dateGroups)
	boundary := year == q.Day.Year

	for _, venue := range q.Venues {
		timeline, err := e.classifier.ClassifyYear(venue, year, q.Timezone)
		if err != nil {
			return nil, err
		}

		for _, c := range timeline {
			if !q.Types.Has(c.Type) || (boundary && !onSearchSide(c.Date, q)) {
				continue
			}
			groups.add(c, venue)
		}

		if q.Types.Has(TypeRegular) {
			f, err := e.classifier.Facts(venue)
			if err != nil {
				return nil, err
			}
			special := make(map[civil.Date]bool, len(timeline))
			for _, c := range timeline {
				special[c.Date] = true
			}
			start, end := regularPeriod(q, year)
			for d := start; !d.After(end); d = d.AddDays(1) {
				if !f.IsWeekend(d) && !special[d] {
					groups.add(regularDay(d), venue)
				}
			}
		}
	}
	return groups, nil
}

// onSearchSide reports whether d may be returned for q on q.Day's year.
func onSearchSide(d civil.Date, q SearchQuery) bool {
	if d == q.Day {
		return q.Inclusive
	}
	if q.Forward {
		return d.After(q.Day)
	}
	return d.Before(q.Day)
}

// regularPeriod is the part of year searched for regular business days.
func regularPeriod(q SearchQuery, year int) (civil.Date, civil.Date) {
	start := civil.Date{Year: year, Month: time.January, Day: 1}
	end := civil.Date{Year: year, Month: time.December, Day: 31}
	if year != q.Day.Year {
		return start, end
	}
	skip := 0
	if !q.Inclusive {
		skip = 1
	}
	if q.Forward {
		start = q.Day.AddDays(skip)
	} else {
		end = q.Day.AddDays(-skip)
	}
	return start, end
}

// removeBadDates drops, per date, every venue whose metadata tags that date
// as bad. Metadata lookup failures are logged and otherwise ignored.
func (e *Engine) removeBadDates(groups dateGroups, venues []string) {
	dates := groups.sorted(false)
	start, end := dates[0], dates[len(dates)-1]

	for _, venue := range venues {
		f, err := e.classifier.Facts(venue)
		if err != nil {
			e.logger.Warn("skipping bad date lookup", zap.String("venue", venue), zap.Error(err))
			continue
		}
		for _, d := range f.BadDates(start, end) {
			groups.removeVenue(d, venue)
		}
	}
}
