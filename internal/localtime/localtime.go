// Package localtime converts between wall-clock times in IANA timezones and
// absolute UTC instants. All functions are pure and safe for concurrent use.
package localtime

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/maheshrc27/linkedin-scheduler/internal/models"
)

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04"
	DateTimeLayout = "2006-01-02T15:04"

	timeLayoutSeconds = "15:04:05"
)

type Granularity string

const (
	GranularityDate     Granularity = "date"
	GranularityTime     Granularity = "time"
	GranularityDateTime Granularity = "datetime"
)

// LoadZone resolves an IANA timezone name. The empty name and "Local" are
// rejected: the server's own zone must never leak into user schedules.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimezone, name)
	}
	return loc, nil
}

// ToAbsolute interprets localDate and localTime as a wall-clock reading in
// the named timezone and returns the instant in UTC. Wall-clock times that
// do not exist in the zone (skipped by a daylight-saving jump) are rejected.
// A reading that occurs twice (clocks turned back) resolves to the earlier
// instant.
func ToAbsolute(localDate, localTime, timezone string) (time.Time, error) {
	loc, err := LoadZone(timezone)
	if err != nil {
		return time.Time{}, err
	}

	d, err := time.Parse(DateLayout, strings.TrimSpace(localDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", models.ErrInvalidDateTime, localDate)
	}

	clock, err := parseClock(strings.TrimSpace(localTime))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", models.ErrInvalidDateTime, localTime)
	}

	wall := time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)

	// Try the offsets in force around the reading; time.Date alone picks
	// either occurrence of a repeated reading depending on the zone.
	candidates := []time.Time{time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)}
	for _, near := range []time.Time{wall.Add(-48 * time.Hour), wall.Add(48 * time.Hour)} {
		_, offset := near.In(loc).Zone()
		candidates = append(candidates, wall.Add(-time.Duration(offset)*time.Second))
	}

	var best time.Time
	for _, c := range candidates {
		if !sameWallClock(c.In(loc), wall) {
			continue
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", models.ErrInvalidDateTime, localDate, localTime, timezone)
	}

	return best.UTC(), nil
}

func sameWallClock(local, wall time.Time) bool {
	y1, m1, d1 := local.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute() && local.Second() == wall.Second()
}

func parseClock(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(timeLayoutSeconds, s)
}

// ParseLocalDateTime accepts either "YYYY-MM-DDTHH:MM[:SS]" read in timezone,
// or an RFC 3339 value with its own offset.
func ParseLocalDateTime(value, timezone string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		if _, err := LoadZone(timezone); err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	date, clock, ok := strings.Cut(value, "T")
	if !ok {
		date, clock, ok = strings.Cut(value, " ")
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DDTHH:MM, got %q", models.ErrInvalidDateTime, value)
	}
	return ToAbsolute(date, clock, timezone)
}

// ToDisplay renders instant in timezone. The instant is always read as UTC,
// whatever location it carries.
func ToDisplay(instant time.Time, timezone string, g Granularity) (string, error) {
	loc, err := LoadZone(timezone)
	if err != nil {
		return "", err
	}
	local := instant.UTC().In(loc)

	switch g {
	case GranularityDate:
		return local.Format(DateLayout), nil
	case GranularityTime:
		return local.Format(TimeLayout), nil
	case GranularityDateTime, "":
		return local.Format(DateTimeLayout), nil
	default:
		return "", fmt.Errorf("unknown granularity %q", g)
	}
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseInstant parses a persisted instant. Strings without a zone designator
// are taken as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: instant %q", models.ErrInvalidDateTime, s)
}

// FormatInstant renders t as RFC 3339 in UTC with an explicit Z.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
