package calendar

import (
	"strings"
	"time"
)

// standardNames maps IANA zones to the abbreviation of their current
// standard time. Zones sharing an abbreviation share a clock today even when
// their history differs.
var standardNames = map[string]string{
	"Europe/Amsterdam":    "CET",
	"Europe/Berlin":       "CET",
	"Europe/Brussels":     "CET",
	"Europe/Budapest":     "CET",
	"Europe/Copenhagen":   "CET",
	"Europe/Madrid":       "CET",
	"Europe/Oslo":         "CET",
	"Europe/Paris":        "CET",
	"Europe/Prague":       "CET",
	"Europe/Rome":         "CET",
	"Europe/Stockholm":    "CET",
	"Europe/Vienna":       "CET",
	"Europe/Warsaw":       "CET",
	"Europe/Zurich":       "CET",
	"Europe/Dublin":       "WET",
	"Europe/Lisbon":       "WET",
	"Europe/London":       "WET",
	"Europe/Athens":       "EET",
	"Europe/Helsinki":     "EET",
	"Europe/Istanbul":     "TRT",
	"Africa/Johannesburg": "SAST",
	"Asia/Jerusalem":      "IST",
	"Asia/Kolkata":        "IST",
	"Asia/Tokyo":          "JST",
	"Asia/Hong_Kong":      "HKT",
	"Australia/Sydney":    "AEST",
	"America/New_York":    "EST",
	"America/Toronto":     "EST",
	"America/Chicago":     "CST",
}

// StandardName returns the standard abbreviation for an IANA zone name.
func StandardName(iana string) (string, bool) {
	name, ok := standardNames[iana]
	return name, ok
}

// Zone is a resolved timezone. Name is what gets reported; Location is what
// session times are converted into.
type Zone struct {
	Name     string
	Location *time.Location
}

// nativeZone is the zone a venue's times are reported in when no timezone
// is requested: the venue's own clock under its standard name if one exists.
func nativeZone(f *VenueFacts) Zone {
	name := f.Timezone
	if std, ok := StandardName(f.Timezone); ok {
		name = std
	}
	return Zone{Name: name, Location: f.Location}
}

// resolveZone turns a timezone argument into a Zone. It never fails: names
// that are neither loadable nor an unambiguous abbreviation fall back to the
// venue's native zone, or UTC when f is nil.
func resolveZone(tz string, f *VenueFacts) Zone {
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return Zone{Name: loc.String(), Location: loc}
		}
		if iana, ok := lookupAbbreviation(tz); ok {
			if loc, err := time.LoadLocation(iana); err == nil {
				return Zone{Name: iana, Location: loc}
			}
		}
	}
	if f != nil {
		return nativeZone(f)
	}
	return Zone{Name: "UTC", Location: time.UTC}
}

// lookupAbbreviation finds the single IANA zone using abbr as its standard
// name. Ambiguous abbreviations resolve to nothing.
func lookupAbbreviation(abbr string) (string, bool) {
	abbr = strings.ToUpper(abbr)
	var found []string
	for iana, name := range standardNames {
		if name == abbr {
			found = append(found, iana)
		}
	}
	if len(found) != 1 {
		return "", false
	}
	return found[0], true
}
