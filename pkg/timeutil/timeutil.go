// Package timeutil holds the pure time helpers the reminder subsystem is
// built on: local rendering, deterministic timer keys and date parsing.
package timeutil

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
	LocalLayout = DateLayout + " " + ClockLayout

	keyMaxLen   = 96
	slugMaxRune = 50
)

var ErrInvalidFormat = errors.New("invalid format")

// Localize renders t in loc as "YYYY-MM-DD HH:MM". A nil loc means UTC.
func Localize(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(LocalLayout)
}

// LocalizeName is Localize with an IANA zone name.
func LocalizeName(t time.Time, tzName string) (string, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tzName))
	if err != nil {
		return "", fmt.Errorf("%w: timezone %q", ErrInvalidFormat, tzName)
	}
	return Localize(t, loc), nil
}

// ParseLocalDateTime combines a "2006-01-02" date and "15:04" clock in loc.
func ParseLocalDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: use YYYY-MM-DD for date and HH:MM for time", ErrInvalidFormat)
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, perr := time.Parse(ClockLayout, strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, fmt.Errorf("%w: use HH:MM for time", ErrInvalidFormat)
	}
	return t.Hour(), t.Minute(), nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func TruncateMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// StartOfDay returns local midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AtClock moves t to hour:minute on the same local calendar day.
func AtClock(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// DayBounds returns [local midnight, next local midnight) of day in loc, as UTC.
func DayBounds(day time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = day.Location()
	}
	local := day.In(loc)
	y, m, d := local.Date()
	s := time.Date(y, m, d, 0, 0, 0, 0, loc)
	e := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return s.UTC(), e.UTC()
}

// DayKey identifies t's local calendar day, e.g. "2025-06-01".
func DayKey(t time.Time) string {
	return t.Format(DateLayout)
}

// DeterministicKey derives a stable registry key for one trigger of one item.
// It contains only [A-Za-z0-9_-] and is at most 96 bytes long. The full title
// is folded into a short digest so titles sharing a long prefix stay distinct.
func DeterministicKey(kind string, userID int64, title string, instant time.Time) string {
	var b strings.Builder
	b.Grow(keyMaxLen)
	b.WriteString(Slug(kind, 24))
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(userID, 10))
	b.WriteByte('_')
	b.WriteString(instant.UTC().Format("20060102T150405Z"))
	b.WriteByte('_')
	b.WriteString(titleDigest(title))
	b.WriteByte('_')

	slug := Slug(title, slugMaxRune)
	if room := keyMaxLen - b.Len(); len(slug) > room {
		slug = slug[:max(room, 0)]
	}
	b.WriteString(slug)
	return strings.TrimRight(b.String(), "_")
}

// Slug replaces every rune outside [A-Za-z0-9_-] with '_' and keeps at most
// maxRunes runes.
func Slug(s string, maxRunes int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if maxRunes > 0 && n >= maxRunes {
			break
		}
		n++
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func titleDigest(title string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(title))
	return strconv.FormatUint(h.Sum64()&0xffffffffff, 36)
}
