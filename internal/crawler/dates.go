package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	fullDateExpr = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
	yearExpr     = regexp.MustCompile(`^(\d{4})$`)
)

// NormalizeDate maps "YYYY/M/D" to UTC midnight of that date and "YYYY" to
// January 1 UTC of that year. Anything else, including impossible calendar
// dates such as 2021/2/30, yields nil.
func NormalizeDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if m := fullDateExpr.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 {
			return nil
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return nil
		}
		return &t
	}
	if m := yearExpr.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}
