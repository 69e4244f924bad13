// Package timeutil holds the UTC time math the attendance engine is built on.
// Every timestamp in the engine is milliseconds since epoch UTC and every
// business date is a "YYYY-MM-DD" string; nothing here consults time.Local.
package timeutil

import (
	"errors"
	"fmt"
	"time"
)

// BusinessDateLayout is the canonical business date format.
const BusinessDateLayout = "2006-01-02"

const clockLayout = "15:04"

const (
	// MinutesPerDay is the number of clock minutes in one business date.
	MinutesPerDay = 24 * 60

	millisPerMinute = int64(60 * 1000)
	millisPerDay    = int64(MinutesPerDay) * millisPerMinute
)

var (
	// ErrInvalidBusinessDate indicates a date string outside the YYYY-MM-DD layout.
	ErrInvalidBusinessDate = errors.New("timeutil: invalid business date")
	// ErrInvalidClockTime indicates a clock string outside the HH:mm layout.
	ErrInvalidClockTime = errors.New("timeutil: invalid clock time")
)

// Millis converts a time.Time to milliseconds since epoch UTC.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a UTC time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NowMillis reads the injected clock and returns epoch milliseconds.
func NowMillis(clock func() time.Time) int64 {
	return clock().UTC().UnixMilli()
}

// BusinessDate returns the UTC calendar date of the given instant.
func BusinessDate(ms int64) string {
	return FromMillis(ms).Format(BusinessDateLayout)
}

// DayStartMillis returns the epoch milliseconds of midnight UTC on the given
// business date.
func DayStartMillis(businessDate string) (int64, error) {
	day, err := time.ParseInLocation(BusinessDateLayout, businessDate, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBusinessDate, businessDate)
	}
	return day.UnixMilli(), nil
}

// NextBusinessDate returns the business date one calendar day after the input.
func NextBusinessDate(businessDate string) (string, error) {
	start, err := DayStartMillis(businessDate)
	if err != nil {
		return "", err
	}
	return BusinessDate(start + millisPerDay), nil
}

// ClockMinutes parses an "HH:mm" string into minutes past midnight.
func ClockMinutes(hhmm string) (int, error) {
	parsed, err := time.ParseInLocation(clockLayout, hhmm, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClockTime, hhmm)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// MinutesOfDay returns the UTC clock minutes of the given instant.
func MinutesOfDay(ms int64) int {
	t := FromMillis(ms)
	return t.Hour()*60 + t.Minute()
}

// ShiftEndTimestamp returns the instant, in epoch milliseconds, at which a
// shift ending at endHHmm closes on the given business date. Shifts that
// span midnight carry the business date of the day they end on, so no
// day-rollover happens here.
func ShiftEndTimestamp(businessDate, endHHmm string) (int64, error) {
	dayStart, err := DayStartMillis(businessDate)
	if err != nil {
		return 0, err
	}
	endMinutes, err := ClockMinutes(endHHmm)
	if err != nil {
		return 0, err
	}
	return dayStart + int64(endMinutes)*millisPerMinute, nil
}
