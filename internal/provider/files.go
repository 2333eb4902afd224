package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// factsFile is the on-disk YAML layout of one venue's calendar facts.
type factsFile struct {
	Venue    string     `yaml:"venue"`
	Name     string     `yaml:"name"`
	Timezone string     `yaml:"timezone"`
	Weekmask string     `yaml:"weekmask"`
	Open     civil.Time `yaml:"open"`
	Close    civil.Time `yaml:"close"`
	Years    struct {
		From int `yaml:"from"`
		To   int `yaml:"to"`
	} `yaml:"years"`

	Holidays           []NamedDate         `yaml:"holidays"`
	AdhocHolidays      []civil.Date        `yaml:"adhoc_holidays"`
	SpecialOpens       []SessionDates      `yaml:"special_opens"`
	SpecialOpensAdhoc  []SessionDates      `yaml:"special_opens_adhoc"`
	SpecialCloses      []SessionDates      `yaml:"special_closes"`
	SpecialClosesAdhoc []SessionDates      `yaml:"special_closes_adhoc"`
	QuarterlyExpiries  []NamedDate         `yaml:"quarterly_expiries"`
	MonthlyExpiries    []NamedDate         `yaml:"monthly_expiries"`
	MonthEnds          []NamedDate         `yaml:"month_ends"`
	Meta               map[civil.Date]Meta `yaml:"meta"`
}

// Files serves calendars loaded from a directory of YAML fact files, one
// venue per file. Reload swaps the whole set atomically.
type Files struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	calendars map[string]*Calendar
}

// NewFiles loads every *.yaml / *.yml file in dir.
func NewFiles(dir string, logger *zap.Logger) (*Files, error) {
	f := &Files{dir: dir, logger: logger}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the facts directory and replaces the loaded set. On error
// the previously loaded set stays in place.
func (f *Files) Reload() error {
	calendars := make(map[string]*Calendar)

	err := filepath.Walk(f.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if info.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		cal, err := loadFactsFile(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		if _, dup := calendars[cal.Venue]; dup {
			return fmt.Errorf("loading %s: %w: duplicate venue %s", path, ErrInvalidFacts, cal.Venue)
		}
		calendars[cal.Venue] = cal

		f.logger.Debug("loaded calendar facts",
			zap.String("venue", cal.Venue),
			zap.String("path", path),
			zap.Int("holidays", len(cal.RegularHolidays)),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking facts directory: %w", err)
	}

	f.mu.Lock()
	f.calendars = calendars
	f.mu.Unlock()

	f.logger.Info("calendar facts loaded", zap.String("dir", f.dir), zap.Int("venues", len(calendars)))
	return nil
}

// Venues returns the venues with a loaded facts file.
func (f *Files) Venues() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.calendars))
	for v := range f.calendars {
		out = append(out, v)
	}
	return out
}

// Calendar implements Provider.
func (f *Files) Calendar(venue string) (*Calendar, error) {
	f.mu.RLock()
	cal, ok := f.calendars[venue]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return cal.Clone(), nil
}

func loadFactsFile(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ff factsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFacts, err)
	}
	if ff.Venue == "" {
		ff.Venue = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ff.calendar(path)
}

func (ff *factsFile) calendar(source string) (*Calendar, error) {
	if _, err := time.LoadLocation(ff.Timezone); err != nil || ff.Timezone == "" {
		return nil, fmt.Errorf("%w: venue %s: timezone %q", ErrInvalidFacts, ff.Venue, ff.Timezone)
	}

	weekmask := DefaultWeekmask
	if ff.Weekmask != "" {
		w, err := ParseWeekmask(ff.Weekmask)
		if err != nil {
			return nil, fmt.Errorf("%w: venue %s: %v", ErrInvalidFacts, ff.Venue, err)
		}
		weekmask = w
	}

	cal := &Calendar{
		Venue:              ff.Venue,
		Name:               ff.Name,
		Source:             source,
		Timezone:           ff.Timezone,
		Weekmask:           weekmask,
		Open:               ff.Open,
		Close:              ff.Close,
		RegularHolidays:    ff.Holidays,
		AdhocHolidays:      ff.AdhocHolidays,
		SpecialOpens:       ff.SpecialOpens,
		SpecialOpensAdhoc:  ff.SpecialOpensAdhoc,
		SpecialCloses:      ff.SpecialCloses,
		SpecialClosesAdhoc: ff.SpecialClosesAdhoc,
		QuarterlyExpiries:  ff.QuarterlyExpiries,
		MonthlyExpiries:    ff.MonthlyExpiries,
		MonthEnds:          ff.MonthEnds,
		Metadata:           ff.Meta,
	}

	// Expiries and month ends are derived unless the file lists any of them.
	if len(cal.QuarterlyExpiries) == 0 && len(cal.MonthlyExpiries) == 0 && len(cal.MonthEnds) == 0 {
		first, last := ff.Years.From, ff.Years.To
		if first == 0 || last == 0 {
			spanFirst, spanLast, ok := yearSpan(cal)
			if !ok {
				return cal, nil
			}
			if first == 0 {
				first = spanFirst
			}
			if last == 0 {
				last = spanLast
			}
		}
		if last < first {
			return nil, fmt.Errorf("%w: venue %s: years %d-%d", ErrInvalidFacts, ff.Venue, first, last)
		}
		Derive(cal, first, last)
	}

	return cal, nil
}
