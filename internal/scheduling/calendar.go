package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is the canonical day-of-week enumeration used across the scheduling
// core. Monday is 1 and Sunday is 7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{
	Monday:    "monday",
	Tuesday:   "tuesday",
	Wednesday: "wednesday",
	Thursday:  "thursday",
	Friday:    "friday",
	Saturday:  "saturday",
	Sunday:    "sunday",
}

// WeekdayOf converts Go's native weekday (Sunday=0) to the canonical form.
// This is the only place that conversion happens.
func WeekdayOf(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d)
}

func ParseWeekday(s string) (Weekday, error) {
	for w := Monday; w <= Sunday; w++ {
		if weekdayNames[w] == s {
			return w, nil
		}
	}
	return 0, &ValidationError{Field: "weekday", Reason: fmt.Sprintf("unknown weekday %q", s)}
}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("weekday(%d)", int(w))
	}
	return weekdayNames[w]
}

func (w Weekday) MarshalText() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(w))
	}
	return []byte(w.String()), nil
}

func (w *Weekday) UnmarshalText(b []byte) error {
	parsed, err := ParseWeekday(strings.ToLower(string(b)))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

const dateLayout = "2006-01-02"

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Weekday() Weekday {
	return WeekdayOf(d.midnightUTC().Weekday())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnightUTC().AddDate(0, 0, n))
}

func (d Date) Before(other Date) bool {
	return d.midnightUTC().Before(other.midnightUTC())
}

// At combines the date with a clock time in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

const clockLayout = "15:04"

// Clock is a time of day at minute granularity, stored as minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("expected HH:MM, got %q", s)}
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// ClockOf returns the time of day of t in t's own location, truncated to the minute.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Valid() bool {
	return c >= 0 && c < minutesPerDay
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
