package token

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is an offset from midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "HH:MM" (a single digit hour is accepted).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return TimeOfDay(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustParseTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// TimeOfDayOf returns the wall clock portion of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()))
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Window is an inclusive time-of-day range. A window whose End is before its Start
// never contains anything; ranges wrapping midnight are not supported.
type Window struct {
	Start TimeOfDay `yaml:"start" json:"start"`
	End   TimeOfDay `yaml:"end" json:"end"`
}

// Contains reports whether tod falls within [Start, End].
func (w Window) Contains(tod TimeOfDay) bool {
	return w.Start <= tod && tod <= w.End
}

// ContainsTime reports whether the time-of-day of t falls within the window.
func (w Window) ContainsTime(t time.Time) bool {
	return w.Contains(TimeOfDayOf(t))
}
