package calendar

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/dgnsrekt/exchange-calendar-service/internal/cache"
	"github.com/dgnsrekt/exchange-calendar-service/internal/metrics"
	"github.com/dgnsrekt/exchange-calendar-service/internal/provider"
)

// Options tunes a Service. Zero fields take their defaults.
type Options struct {
	// YearWindow bounds searches to this many years around the current one.
	YearWindow           int
	ClassifyDayCacheSize int
	SearchCacheSize      int
	// Now is the clock; defaults to time.Now.
	Now     func() time.Time
	Metrics *metrics.Metrics
}

const (
	DefaultYearWindow           = 30
	DefaultClassifyDayCacheSize = 50
	DefaultSearchCacheSize      = 20
)

func (o Options) withDefaults() Options {
	if o.YearWindow <= 0 {
		o.YearWindow = DefaultYearWindow
	}
	if o.ClassifyDayCacheSize <= 0 {
		o.ClassifyDayCacheSize = DefaultClassifyDayCacheSize
	}
	if o.SearchCacheSize <= 0 {
		o.SearchCacheSize = DefaultSearchCacheSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type dayAllKey struct {
	day      civil.Date
	timezone string
}

type timezoneKey struct {
	venue       string
	standardise bool
}

// Service answers classification and search queries for the venues of a
// registry.
type Service struct {
	registry   *Registry
	facts      *FactsCache
	classifier *Classifier
	engine     *Engine
	dayAll     *cache.LFU[dayAllKey, []VenueClassification]
	timezones  *cache.LFU[timezoneKey, []TimezoneInfo]

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService wires the caches, classifier and search engine over p.
func NewService(registry *Registry, p provider.Provider, opts Options, logger *zap.Logger) *Service {
	opts = opts.withDefaults()
	n := registry.Len()

	facts := NewFactsCache(p, n, opts.Metrics, logger)
	classifier := NewClassifier(facts, 2*n, opts.Metrics)

	return &Service{
		registry:   registry,
		facts:      facts,
		classifier: classifier,
		engine:     NewEngine(classifier, registry, opts.YearWindow, opts.SearchCacheSize, opts.Now, opts.Metrics, logger),
		dayAll:     cache.NewLFU[dayAllKey, []VenueClassification](opts.ClassifyDayCacheSize, opts.Metrics.Cache("classify_day_all")),
		timezones:  cache.NewLFU[timezoneKey, []TimezoneInfo](2*(n+1), opts.Metrics.Cache("timezone")),
		now:        opts.Now,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

const warmWorkers = 4

// Warm loads the facts of every venue so that the first requests do not pay
// for it. All failures are reported together.
func (s *Service) Warm() error {
	venues := s.registry.Venues()
	jobs := make(chan string, len(venues))
	failures := make(chan error, len(venues))
	for _, v := range venues {
		jobs <- v
	}
	close(jobs)

	var wg sync.WaitGroup
	for range min(warmWorkers, len(venues)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range jobs {
				if _, err := s.facts.Get(v); err != nil {
					failures <- err
				}
			}
		}()
	}
	wg.Wait()
	close(failures)

	var errs []error
	for err := range failures {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("venue facts loaded", zap.Int("venues", len(venues)))
	return nil
}

// Today returns the current date.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now())
}

// Venues returns the configured venue codes, sorted.
func (s *Service) Venues() []string {
	return s.registry.Venues()
}

// VenueNames maps venue codes to names.
func (s *Service) VenueNames() map[string]string {
	return s.registry.Names()
}

func (s *Service) checkVenue(venue string) error {
	if !s.registry.Has(venue) {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return nil
}

// Timezones reports the timezone of venue, or of every venue when venue is
// empty. With standardise set, zones are reported by their standard
// abbreviation where one is known.
func (s *Service) Timezones(venue string, standardise bool) ([]TimezoneInfo, error) {
	venues := s.registry.Venues()
	if venue != "" {
		if err := s.checkVenue(venue); err != nil {
			return nil, err
		}
		venues = []string{venue}
	}

	return s.timezones.Get(timezoneKey{venue: venue, standardise: standardise}, func() ([]TimezoneInfo, error) {
		out := make([]TimezoneInfo, 0, len(venues))
		for _, v := range venues {
			f, err := s.facts.Get(v)
			if err != nil {
				return nil, err
			}
			tz := f.Timezone
			if standardise {
				if std, ok := StandardName(tz); ok {
					tz = std
				}
			}
			out = append(out, TimezoneInfo{Venue: v, Timezone: tz})
		}
		return out, nil
	})
}

// DayClassifications returns the special days of venue in year. A zero year
// means the current year, evaluated on every call.
func (s *Service) DayClassifications(venue string, year int, tz string) ([]DayClassification, error) {
	if err := s.checkVenue(venue); err != nil {
		return nil, err
	}
	if year == 0 {
		year = s.now().Year()
	}
	if year < 1 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d out of range", ErrInvalidQuery, year)
	}
	return s.classifier.ClassifyYear(venue, year, tz)
}

// ClassifyDay classifies day for a single venue.
func (s *Service) ClassifyDay(venue string, day civil.Date, tz string) (DayClassification, error) {
	if err := s.checkVenue(venue); err != nil {
		return DayClassification{}, err
	}
	return s.classifier.ClassifyDay(venue, day, tz)
}

// ClassifyDayAll classifies day for every venue and groups venues with
// identical classifications. Without tz each venue reports session times in
// its own zone.
func (s *Service) ClassifyDayAll(day civil.Date, tz string) ([]VenueClassification, error) {
	return s.dayAll.Get(dayAllKey{day: day, timezone: tz}, func() ([]VenueClassification, error) {
		defer s.metrics.ObserveCompute("classify_day_all", time.Now())
		g := NewGrouper()
		for _, v := range s.registry.Venues() {
			c, err := s.classifier.ClassifyDay(v, day, tz)
			if err != nil {
				return nil, err
			}
			g.Add(c, v)
		}
		return g.Groups(), nil
	})
}

// SearchSpecialDays finds special days relative to q.Day. An empty type set
// means every special type.
func (s *Service) SearchSpecialDays(q SearchQuery) (SearchResult, error) {
	return s.search(q, SpecialTypes)
}

// SearchBusinessDays finds business days relative to q.Day. An empty type
// set means every business day type.
func (s *Service) SearchBusinessDays(q SearchQuery) (SearchResult, error) {
	return s.search(q, BusinessTypes)
}

func (s *Service) search(q SearchQuery, allowed TypeSet) (SearchResult, error) {
	if q.Types.IsEmpty() {
		q.Types = allowed
	}
	if !q.Types.SubsetOf(allowed) {
		return SearchResult{}, fmt.Errorf("%w: types %s not allowed, expected a subset of %s", ErrInvalidQuery, q.Types, allowed)
	}
	return s.engine.Search(q)
}

// Refresh rebuilds the facts of venue and drops every cached result that
// may depend on them.
func (s *Service) Refresh(venue string) error {
	if err := s.checkVenue(venue); err != nil {
		return err
	}
	err := s.facts.Refresh(venue)

	s.classifier.Invalidate(venue)
	s.dayAll.Purge()
	s.timezones.Purge()
	s.engine.Invalidate()

	if err != nil {
		return fmt.Errorf("refreshing %s: %w", venue, err)
	}
	s.logger.Info("venue refreshed", zap.String("venue", venue))
	return nil
}

// RefreshAll refreshes every configured venue.
func (s *Service) RefreshAll() error {
	var errs []error
	for _, v := range s.registry.Venues() {
		if err := s.Refresh(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
