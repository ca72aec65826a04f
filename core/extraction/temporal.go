package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeHint is a recognized temporal phrase normalized to an absolute range.
type TimeHint struct {
	Text  string
	Start time.Time
	End   time.Time
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	clockRe     = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	hour24Re    = regexp.MustCompile(`\b(\d{1,2})h(\d{2})?\b`)
	lastWeekday = regexp.MustCompile(`\b(?:last|next)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDayRe    = regexp.MustCompile(`\b(yesterday|today|tomorrow|tonight|this\s+morning|last\s+night|last\s+week|this\s+week|last\s+month|hôm\s+qua|hôm\s+nay|ngày\s+mai|tuần\s+trước|tuần\s+này|tháng\s+trước|tối\s+qua|sáng\s+nay)\b`)
	agoRe       = regexp.MustCompile(`\b(\d+)\s+(minute|hour|day|week|month)s?\s+ago\b`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// ExtractTimeHints recognizes absolute and relative temporal expressions in
// English and Vietnamese and normalizes each to a [start, end] range
// relative to the reference time. Unrecognizable text yields no hints.
func ExtractTimeHints(text string, ref time.Time) []TimeHint {
	lower := strings.ToLower(text)
	var hints []TimeHint

	for _, m := range isoDateRe.FindAllStringSubmatch(lower, -1) {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location())
		hints = append(hints, TimeHint{Text: m[0], Start: start, End: start.Add(24*time.Hour - time.Nanosecond)})
	}

	for _, m := range clockRe.FindAllStringSubmatch(lower, -1) {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		if hour > 23 || minute > 59 {
			continue
		}
		start := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		hints = append(hints, TimeHint{Text: m[0], Start: start, End: start.Add(time.Hour)})
	}

	for _, m := range hour24Re.FindAllStringSubmatch(lower, -1) {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 || minute > 59 {
			continue
		}
		start := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		hints = append(hints, TimeHint{Text: m[0], Start: start, End: start.Add(time.Hour)})
	}

	for _, m := range lastWeekday.FindAllStringSubmatch(lower, -1) {
		target := weekdays[m[1]]
		day := startOfDay(ref)
		if strings.HasPrefix(m[0], "last") {
			for i := 0; i < 8; i++ {
				day = day.AddDate(0, 0, -1)
				if day.Weekday() == target {
					break
				}
			}
		} else {
			for i := 0; i < 8; i++ {
				day = day.AddDate(0, 0, 1)
				if day.Weekday() == target {
					break
				}
			}
		}
		hints = append(hints, TimeHint{Text: m[0], Start: day, End: day.Add(24*time.Hour - time.Nanosecond)})
	}

	for _, m := range relDayRe.FindAllStringSubmatch(lower, -1) {
		if h, ok := relativeHint(m[1], ref); ok {
			h.Text = m[0]
			hints = append(hints, h)
		}
	}

	for _, m := range agoRe.FindAllStringSubmatch(lower, -1) {
		n, _ := strconv.Atoi(m[1])
		var d time.Duration
		switch m[2] {
		case "minute":
			d = time.Duration(n) * time.Minute
		case "hour":
			d = time.Duration(n) * time.Hour
		case "day":
			d = time.Duration(n) * 24 * time.Hour
		case "week":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "month":
			d = time.Duration(n) * 30 * 24 * time.Hour
		}
		at := ref.Add(-d)
		hints = append(hints, TimeHint{Text: m[0], Start: at.Add(-time.Hour), End: at.Add(time.Hour)})
	}

	return hints
}

func relativeHint(phrase string, ref time.Time) (TimeHint, bool) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	day := startOfDay(ref)

	switch phrase {
	case "today", "hôm nay", "tonight", "this morning", "sáng nay":
		return dayRange(day), true
	case "yesterday", "hôm qua", "last night", "tối qua":
		return dayRange(day.AddDate(0, 0, -1)), true
	case "tomorrow", "ngày mai":
		return dayRange(day.AddDate(0, 0, 1)), true
	case "last week", "tuần trước":
		start := day.AddDate(0, 0, -7-int(day.Weekday()))
		return TimeHint{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "this week", "tuần này":
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return TimeHint{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "last month", "tháng trước":
		start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location()).AddDate(0, -1, 0)
		return TimeHint{Start: start, End: start.AddDate(0, 1, 0)}, true
	}
	return TimeHint{}, false
}

func dayRange(day time.Time) TimeHint {
	return TimeHint{Start: day, End: day.Add(24*time.Hour - time.Nanosecond)}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
