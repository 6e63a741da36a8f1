/*
hours.go - Weekly opening-hours schedule

PURPOSE:
  Models a pharmacy's weekly schedule: per weekday, a list of open/close
  intervals. A day may carry several intervals, and an interval whose close
  is at or before its open spans midnight into the next day.

RAW FORMAT:
  The upstream pharmacy feed carries schedules as free-form strings such as:

    "Mon 08:00 - 18:00, Tue 13:00 - 18:00"
    "Mon - Fri 08:00 - 17:00 / Sat, Sun 08:00 - 12:00"
    "Mon, Wed, Fri 20:00 - 02:00"

  ParseWeeklyHours tokenizes these: day tokens (including "Mon - Fri"
  ranges) accumulate until a "HH:MM - HH:MM" pair completes, which assigns
  that interval to every accumulated day. Commas and slashes are
  separators only.

STORAGE:
  WeeklyHours marshals to JSON keyed by lowercase weekday name, each day a
  list of {"open","close"} pairs. That JSON is what the SQLite store keeps
  in the pharmacies.opening_hours column.
*/
package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// =============================================================================
// CLOCK - Minute-of-day time
// =============================================================================

// Clock is a time of day in minutes after midnight [0, 1440).
type Clock int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// =============================================================================
// INTERVAL & WEEKLY SCHEDULE
// =============================================================================

// Interval is one open/close span. Close at or before Open means the span
// crosses midnight: [Open, 24:00) on the day it is attached to, plus
// [00:00, Close) on the following day.
type Interval struct {
	Open  Clock
	Close Clock
}

func (iv Interval) overnight() bool { return iv.Close <= iv.Open }

// contains reports whether t falls in the same-day portion of the interval.
func (iv Interval) contains(t Clock) bool {
	if iv.overnight() {
		return t >= iv.Open
	}
	return t >= iv.Open && t < iv.Close
}

// WeeklyHours maps a weekday to its open intervals. A missing or empty day
// is closed all day (aside from a previous day's overnight spillover).
type WeeklyHours map[time.Weekday][]Interval

// OpenOn reports whether the schedule has any interval attached to day.
// Overnight spillover from the previous day does not count as being
// "open on" day; this matches how the schedule is advertised.
func (wh WeeklyHours) OpenOn(day time.Weekday) bool {
	return len(wh[day]) > 0
}

// OpenAt reports whether the pharmacy is open at the given weekday and
// time of day, accounting for overnight intervals begun the previous day.
func (wh WeeklyHours) OpenAt(day time.Weekday, at Clock) bool {
	for _, iv := range wh[day] {
		if iv.contains(at) {
			return true
		}
	}
	prev := (day + 6) % 7
	for _, iv := range wh[prev] {
		if iv.overnight() && at < iv.Close {
			return true
		}
	}
	return false
}

// =============================================================================
// JSON FORM
// =============================================================================

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

var weekdayByName = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

// ParseWeekday accepts full names, the feed's abbreviations, and ISO 8601
// digits (1=Monday .. 7=Sunday).
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayByName[key]; ok {
		return d, nil
	}
	if len(key) == 1 && key[0] >= '1' && key[0] <= '7' {
		// ISO: 1=Monday .. 7=Sunday; time.Weekday: 0=Sunday.
		return time.Weekday(int(key[0]-'0') % 7), nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

type intervalJSON struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

func (wh WeeklyHours) MarshalJSON() ([]byte, error) {
	out := make(map[string][]intervalJSON, len(wh))
	for day, ivs := range wh {
		list := make([]intervalJSON, len(ivs))
		for i, iv := range ivs {
			list[i] = intervalJSON{Open: iv.Open.String(), Close: iv.Close.String()}
		}
		out[weekdayNames[day]] = list
	}
	return json.Marshal(out)
}

func (wh *WeeklyHours) UnmarshalJSON(data []byte) error {
	var raw map[string][]intervalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := make(WeeklyHours, len(raw))
	for name, list := range raw {
		day, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		for _, ij := range list {
			open, err := ParseClock(ij.Open)
			if err != nil {
				return err
			}
			close, err := ParseClock(ij.Close)
			if err != nil {
				return err
			}
			parsed[day] = append(parsed[day], Interval{Open: open, Close: close})
		}
	}
	*wh = parsed
	return nil
}

// =============================================================================
// RAW SCHEDULE PARSER
// =============================================================================

// ParseWeeklyHours parses the feed's schedule strings. Day tokens (and
// "Mon - Fri" ranges) accumulate until a "HH:MM - HH:MM" pair completes;
// the pair is then attached to every accumulated day. A day token after a
// completed pair starts a fresh day set.
func ParseWeeklyHours(raw string) (WeeklyHours, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WeeklyHours{}, nil
	}

	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '/' || unicode.IsSpace(r)
	})

	wh := make(WeeklyHours)
	var days []time.Weekday
	var open *Clock
	dash := false
	flushed := false

	for _, tok := range tokens {
		switch {
		case tok == "-":
			dash = true

		case strings.Contains(tok, ":"):
			t, err := ParseClock(tok)
			if err != nil {
				return nil, err
			}
			switch {
			case open == nil:
				open = &t
				dash = false
			case dash:
				if len(days) == 0 {
					return nil, fmt.Errorf("schedule %q: time range with no days", raw)
				}
				for _, d := range days {
					wh[d] = append(wh[d], Interval{Open: *open, Close: t})
				}
				open = nil
				dash = false
				flushed = true
			default:
				return nil, fmt.Errorf("schedule %q: unexpected time token %q", raw, tok)
			}

		default:
			d, err := ParseWeekday(tok)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: %w", raw, err)
			}
			if flushed {
				days = days[:0]
				flushed = false
			}
			if dash && len(days) > 0 {
				for wd := days[len(days)-1]; wd != d; {
					wd = (wd + 1) % 7
					days = append(days, wd)
				}
			} else {
				days = append(days, d)
			}
			dash = false
		}
	}

	if open != nil {
		return nil, fmt.Errorf("schedule %q: unterminated time range", raw)
	}
	return wh, nil
}
