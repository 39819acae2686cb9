package clock

import "time"

// Clock abstracts wall time so billing dates can be injected.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from start to end.
// The result is negative when end precedes start.
func DaysBetween(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours() / 24)
}
