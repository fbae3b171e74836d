package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// reDayFirst matches French-style dates (31/01/2024, 31-01-2024, 31.01.2024)
// which dateparse would read month-first.
var reDayFirst = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)

// reFrenchDate matches "18 février 2026" anywhere in the text, so labels
// such as "Publiée le 1er mars 2024" parse too.
var reFrenchDate = regexp.MustCompile(`(?i)(\d{1,2})(?:er)?\s+(janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|septembre|octobre|novembre|d[ée]cembre)\s+(\d{4})`)

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "fevrier": time.February, "février": time.February,
	"mars": time.March, "avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "aout": time.August, "août": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November,
	"decembre": time.December, "décembre": time.December,
}

// parseDate converts epoch numbers (seconds or milliseconds) and textual
// dates into a UTC calendar date. A nil or empty value yields nil.
func parseDate(v any) (*time.Time, error) {
	var t time.Time
	switch val := v.(type) {
	case nil:
		return nil, nil
	case float64:
		t = fromEpoch(int64(val))
	case int64:
		t = fromEpoch(val)
	case int:
		t = fromEpoch(int64(val))
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("parse epoch %q: %w", val, err)
		}
		t = fromEpoch(n)
	case time.Time:
		t = val
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		parsed, err := parseDateString(s)
		if err != nil {
			return nil, err
		}
		t = parsed
	default:
		return nil, fmt.Errorf("unsupported date value of type %T", v)
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

func parseDateString(s string) (time.Time, error) {
	if m := reDayFirst.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t, ok := calendarDate(year, time.Month(month), day)
		if !ok {
			return time.Time{}, fmt.Errorf("invalid date %q", s)
		}
		return t, nil
	}
	if m := reFrenchDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		if month, ok := frenchMonths[strings.ToLower(m[2])]; ok {
			t, ok := calendarDate(year, month, day)
			if !ok {
				return time.Time{}, fmt.Errorf("invalid date %q", s)
			}
			return t, nil
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// calendarDate builds the date and reports false when time.Date had to
// normalize it, as for 31/02 or 00/13.
func calendarDate(year int, month time.Month, day int) (time.Time, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return t, t.Year() == year && t.Month() == month && t.Day() == day
}

func fromEpoch(n int64) time.Time {
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
