package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

var (
	ErrUnknownVenue = errors.New("unknown venue")
	ErrInvalidQuery = errors.New("invalid query")
)

// DayType is the classification category of a day.
type DayType string

const (
	TypeRegular       DayType = "regular"
	TypeWeekend       DayType = "weekend"
	TypeHoliday       DayType = "holiday"
	TypeSpecialOpen   DayType = "special open"
	TypeSpecialClose  DayType = "special close"
	TypeWitching      DayType = "witching"
	TypeMonthlyExpiry DayType = "monthly expiry"
	TypeMonthEnd      DayType = "month end"
	// TypeMSCIRebal is accepted in queries but never produced.
	TypeMSCIRebal DayType = "MSCI rebal"
)

// allTypes fixes the bit position of each type in a TypeSet.
var allTypes = []DayType{
	TypeRegular,
	TypeWeekend,
	TypeHoliday,
	TypeSpecialOpen,
	TypeSpecialClose,
	TypeWitching,
	TypeMonthlyExpiry,
	TypeMonthEnd,
	TypeMSCIRebal,
}

// ParseDayType accepts the wire value of a type ("special close") as well as
// its snake_case spelling ("special_close").
func ParseDayType(s string) (DayType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
	for _, t := range allTypes {
		if strings.ToLower(string(t)) == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown day type %q", ErrInvalidQuery, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DayType) UnmarshalText(text []byte) error {
	parsed, err := ParseDayType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsBusinessDay reports whether days of this type are trading days.
func (t DayType) IsBusinessDay() bool {
	return t != TypeWeekend && t != TypeHoliday
}

// HasSession reports whether the type carries a non-standard session time.
func (t DayType) HasSession() bool {
	return t == TypeSpecialOpen || t == TypeSpecialClose
}

func (t DayType) bit() TypeSet {
	for i, at := range allTypes {
		if at == t {
			return 1 << i
		}
	}
	return 0
}

// TypeSet is a set of day types. The zero value is empty.
type TypeSet uint16

// NewTypeSet returns the set holding the given types.
func NewTypeSet(types ...DayType) TypeSet {
	var s TypeSet
	for _, t := range types {
		s |= t.bit()
	}
	return s
}

var (
	// SpecialTypes are the types searched for special days by default.
	SpecialTypes = NewTypeSet(TypeHoliday, TypeSpecialOpen, TypeSpecialClose, TypeWitching,
		TypeMonthlyExpiry, TypeMonthEnd, TypeMSCIRebal)
	// BusinessTypes are the types searched for business days by default.
	BusinessTypes = NewTypeSet(TypeRegular, TypeSpecialOpen, TypeSpecialClose, TypeWitching,
		TypeMonthlyExpiry, TypeMonthEnd, TypeMSCIRebal)
)

// Has reports whether t is in the set.
func (s TypeSet) Has(t DayType) bool {
	b := t.bit()
	return b != 0 && s&b != 0
}

// IsEmpty reports whether the set holds no types.
func (s TypeSet) IsEmpty() bool { return s == 0 }

// SubsetOf reports whether every type in s is also in other.
func (s TypeSet) SubsetOf(other TypeSet) bool { return s&^other == 0 }

// Types returns the members of the set in a fixed order.
func (s TypeSet) Types() []DayType {
	var out []DayType
	for _, t := range allTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TypeSet) String() string {
	types := s.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// DayClassification describes how one venue treats one day. It is a
// comparable value; two classifications are equal only if every field
// matches.
type DayClassification struct {
	Date          civil.Date
	Type          DayType
	IsBusinessDay bool
	Name          string
	// Time and Timezone are only set for session types.
	Time     civil.Time
	Timezone string
}

func regularDay(d civil.Date) DayClassification {
	return DayClassification{Date: d, Type: TypeRegular, IsBusinessDay: true}
}

func weekendDay(d civil.Date) DayClassification {
	return DayClassification{Date: d, Type: TypeWeekend}
}

type classificationJSON struct {
	Date          civil.Date  `json:"date"`
	Type          DayType     `json:"type"`
	IsBusinessDay bool        `json:"is_business_day"`
	Name          string      `json:"name,omitempty"`
	Time          *civil.Time `json:"time,omitempty"`
	Timezone      string      `json:"tz,omitempty"`
	Venues        []string    `json:"mics,omitempty"`
}

func (c DayClassification) wire() classificationJSON {
	out := classificationJSON{
		Date:          c.Date,
		Type:          c.Type,
		IsBusinessDay: c.IsBusinessDay,
		Name:          c.Name,
	}
	if c.Type.HasSession() {
		t := c.Time
		out.Time = &t
		out.Timezone = c.Timezone
	}
	return out
}

func (w classificationJSON) classification() DayClassification {
	c := DayClassification{
		Date:          w.Date,
		Type:          w.Type,
		IsBusinessDay: w.IsBusinessDay,
		Name:          w.Name,
		Timezone:      w.Timezone,
	}
	if w.Time != nil {
		c.Time = *w.Time
	}
	return c
}

// MarshalJSON implements json.Marshaler. Session fields are only written for
// special open and special close days.
func (c DayClassification) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *DayClassification) UnmarshalJSON(data []byte) error {
	var w classificationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = w.classification()
	return nil
}

// VenueClassification is a classification shared by a set of venues.
type VenueClassification struct {
	DayClassification
	Venues []string
}

// MarshalJSON implements json.Marshaler.
func (v VenueClassification) MarshalJSON() ([]byte, error) {
	w := v.wire()
	w.Venues = v.Venues
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VenueClassification) UnmarshalJSON(data []byte) error {
	var w classificationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.DayClassification = w.classification()
	v.Venues = w.Venues
	return nil
}

// DateGroup holds every distinct classification of one date across venues.
type DateGroup struct {
	Date            civil.Date            `json:"date"`
	Classifications []VenueClassification `json:"classifications"`
}

// TimezoneInfo is the timezone reported for a venue.
type TimezoneInfo struct {
	Venue    string `json:"mic"`
	Timezone string `json:"tz"`
}
