package stats

import "time"

// DayMillis is the length of one day bucket in milliseconds.
const DayMillis int64 = 86_400_000

// DayKey returns the UTC calendar-day index of t, floor(unixMillis / DayMillis).
// Instants before the epoch round toward negative infinity.
func DayKey(t time.Time) int64 {
	ms := t.UnixMilli()
	day := ms / DayMillis
	if ms%DayMillis < 0 {
		day--
	}
	return day
}

// DayStart returns the first instant of day.
func DayStart(day int64) time.Time {
	return time.UnixMilli(day * DayMillis).UTC()
}
