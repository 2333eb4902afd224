package server

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dgnsrekt/exchange-calendar-service/internal/calendar"
)

var errBadParam = errors.New("invalid parameter")

// params reads typed query parameters. The first parse error sticks and
// later reads return zero values.
type params struct {
	values url.Values
	err    error
}

func newParams(values url.Values) *params {
	return &params{values: values}
}

func (p *params) fail(name, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w %s=%q: %v", errBadParam, name, raw, err)
	}
}

func (p *params) str(name string) string {
	return strings.TrimSpace(p.values.Get(name))
}

func (p *params) required(name string) string {
	v := p.str(name)
	if v == "" {
		p.fail(name, v, errors.New("required"))
	}
	return v
}

// list returns every value of a repeatable parameter, also splitting
// comma-separated values.
func (p *params) list(name string) []string {
	var out []string
	for _, raw := range p.values[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func (p *params) boolean(name string, def bool) bool {
	raw := p.str(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(name, raw, err)
		return def
	}
	return v
}

func (p *params) integer(name string, def int) int {
	raw := p.str(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(name, raw, err)
		return def
	}
	return v
}

func (p *params) optionalInt(name string) *int {
	if p.str(name) == "" {
		return nil
	}
	v := p.integer(name, 0)
	return &v
}

func (p *params) date(name string, def civil.Date) civil.Date {
	raw := p.str(name)
	if raw == "" {
		return def
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		p.fail(name, raw, err)
		return def
	}
	return d
}

func (p *params) types(name string) calendar.TypeSet {
	var types []calendar.DayType
	for _, raw := range p.list(name) {
		t, err := calendar.ParseDayType(raw)
		if err != nil {
			p.fail(name, raw, err)
			continue
		}
		types = append(types, t)
	}
	return calendar.NewTypeSet(types...)
}

// searchQuery reads the parameters shared by both search routes.
func (p *params) searchQuery(today civil.Date) calendar.SearchQuery {
	return calendar.SearchQuery{
		Day:          p.date("day", today),
		Inclusive:    p.boolean("inclusive", true),
		Forward:      p.boolean("forward", true),
		Venues:       p.list("mic"),
		Types:        p.types("types"),
		N:            p.integer("n", 1),
		Range:        p.optionalInt("range"),
		Timezone:     p.str("tz"),
		SkipBadDates: p.boolean("skip_bad_dates", false),
	}
}
