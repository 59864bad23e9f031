package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	ErrInvalidDate     = errors.New("invalid date format")
	ErrInvalidTime     = errors.New("invalid time format")
	ErrInvalidInterval = errors.New("end time must be after start time")
)

// Interval is a half-open [Start, End) range in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func ParseDate(dateStr string) (time.Time, error) {
	if len(dateStr) != len(DateLayout) {
		return time.Time{}, ErrInvalidDate
	}
	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return date, nil
}

func ParseClockToMinutes(timeStr string) (int, error) {
	if len(timeStr) != len(ClockLayout) {
		return 0, ErrInvalidTime
	}
	tm, err := time.Parse(ClockLayout, timeStr)
	if err != nil {
		return 0, ErrInvalidTime
	}
	return tm.Hour()*60 + tm.Minute(), nil
}

func MinutesToClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseInterval validates both clocks and that end is after start.
func ParseInterval(start, end string) (Interval, error) {
	s, err := ParseClockToMinutes(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseClockToMinutes(end)
	if err != nil {
		return Interval{}, err
	}
	if e <= s {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: s, End: e}, nil
}
