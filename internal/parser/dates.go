package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var germanMonths = map[string]time.Month{
	"januar": time.January, "februar": time.February, "märz": time.March,
	"april": time.April, "mai": time.May, "juni": time.June,
	"juli": time.July, "august": time.August, "september": time.September,
	"oktober": time.October, "november": time.November, "dezember": time.December,
}

var (
	isoDatePattern    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDatePattern = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	germanDatePattern = regexp.MustCompile(`(?i)\b(\d{1,2})\.\s*(Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)\s+(\d{4})\b`)
)

// ParseDateText extracts the first recognizable date from free text and
// returns it as an ISO date, or "" when no date is present. Handles ISO
// (2022-11-08), dotted German (8.11.2022) and written German
// (8. November 2022) forms, anywhere inside the cell text.
func ParseDateText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		if d, ok := makeDate(m[3], m[2], m[1]); ok {
			return d
		}
	}
	if m := germanDatePattern.FindStringSubmatch(s); m != nil {
		month, ok := germanMonths[strings.ToLower(m[2])]
		if ok {
			if d, ok := makeDate(m[1], strconv.Itoa(int(month)), m[3]); ok {
				return d
			}
		}
	}
	if m := dottedDatePattern.FindStringSubmatch(s); m != nil {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return d
		}
	}
	return ""
}

// makeDate validates day/month/year and formats ISO. Round-tripping through
// time.Date catches impossible dates like 31.02.
func makeDate(day, month, year string) (string, bool) {
	d, err1 := strconv.Atoi(day)
	m, err2 := strconv.Atoi(month)
	y, err3 := strconv.Atoi(year)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1000 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != time.Month(m) || t.Year() != y {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}
