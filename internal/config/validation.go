package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var micPattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidVenues   []string
	DuplicateVenues []string
	Fields          []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidVenues) > 0 || len(e.DuplicateVenues) > 0 || len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidVenues) > 0 {
		sb.WriteString("\nInvalid venue codes (expected four upper-case letters or digits):\n")
		for _, v := range e.InvalidVenues {
			fmt.Fprintf(&sb, "  - %q\n", v)
		}
	}

	if len(e.DuplicateVenues) > 0 {
		sb.WriteString("\nDuplicate venues:\n")
		for _, v := range e.DuplicateVenues {
			fmt.Fprintf(&sb, "  - %s\n", v)
		}
	}

	if len(e.Fields) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, f := range e.Fields {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}

	return sb.String()
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if !micPattern.MatchString(v.MIC) {
			errs.InvalidVenues = append(errs.InvalidVenues, v.MIC)
			continue
		}
		if seen[v.MIC] {
			errs.DuplicateVenues = append(errs.DuplicateVenues, v.MIC)
		}
		seen[v.MIC] = true
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs.Fields = append(errs.Fields, fmt.Sprintf("server.port %q must be a number between 1 and 65535", c.Server.Port))
	}
	if c.Search.YearWindow < 1 {
		errs.Fields = append(errs.Fields, "search.year_window must be >= 1")
	}
	if c.Cache.ClassifyDaySize < 1 {
		errs.Fields = append(errs.Fields, "cache.classify_day_size must be >= 1")
	}
	if c.Cache.SearchSize < 1 {
		errs.Fields = append(errs.Fields, "cache.search_size must be >= 1")
	}
	if c.Admin.Enabled() && c.Admin.RequestsPerSecond <= 0 {
		errs.Fields = append(errs.Fields, "admin.requests_per_second must be > 0")
	}
	if s := c.Provider.RefreshSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs.Fields = append(errs.Fields, fmt.Sprintf("provider.refresh_schedule %q: %v", s, err))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
