package attendance

import (
	"time"

	"github.com/shiftpunch/attendance/engine/internal/timeutil"
)

// Default thresholds substituted when the profile leaves them blank.
const (
	DefaultMinimumWorkingHours = 9.0
	DefaultAutoCheckoutAfter   = 3 * time.Hour
	DefaultShiftStartTime      = "09:00"
	DefaultShiftEndTime        = "18:00"
)

// ShiftConfig is the user's configured shift, owned by the profile layer and
// read-only here. Clock times are UTC clock minutes, not device-local.
type ShiftConfig struct {
	ShiftStartTime      string
	ShiftEndTime        string
	MinimumWorkingHours float64
	AutoCheckoutAfter   time.Duration
}

// WithDefaults fills absent fields with the engine's silent defaults.
func (c ShiftConfig) WithDefaults() ShiftConfig {
	if c.ShiftStartTime == "" {
		c.ShiftStartTime = DefaultShiftStartTime
	}
	if c.ShiftEndTime == "" {
		c.ShiftEndTime = DefaultShiftEndTime
	}
	if c.MinimumWorkingHours <= 0 {
		c.MinimumWorkingHours = DefaultMinimumWorkingHours
	}
	if c.AutoCheckoutAfter <= 0 {
		c.AutoCheckoutAfter = DefaultAutoCheckoutAfter
	}
	return c
}

// ShiftWindow is the start/end clock-minute pair derived from a ShiftConfig.
// Never persisted; recomputed on demand.
type ShiftWindow struct {
	StartMinutes int
	EndMinutes   int
	SpansTwoDays bool
}

// Window derives the shift window from the configured clock times.
func (c ShiftConfig) Window() (ShiftWindow, error) {
	cfg := c.WithDefaults()
	startMinutes, err := timeutil.ClockMinutes(cfg.ShiftStartTime)
	if err != nil {
		return ShiftWindow{}, err
	}
	endMinutes, err := timeutil.ClockMinutes(cfg.ShiftEndTime)
	if err != nil {
		return ShiftWindow{}, err
	}
	return ShiftWindow{
		StartMinutes: startMinutes,
		EndMinutes:   endMinutes,
		SpansTwoDays: endMinutes < startMinutes,
	}, nil
}

// lastRecord returns the most recent punch of an ascending history, nil when
// the history is empty.
func lastRecord(history []PunchRecord) *PunchRecord {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

// anchoredShiftEnd returns the end instant of the spanning shift a punch
// belongs to. Punches are normally dated to the day the shift ends, so the
// instant is dayStart(dateOfPunch) + endMinutes. A first-ever check-in (and
// any check-out) is dated to today instead; when such a punch sits in the
// evening segment its raw anchor is already behind it, and the shift truly
// ends on the following day.
func anchoredShiftEnd(record *PunchRecord, cfg ShiftConfig, window ShiftWindow) (int64, error) {
	endTime := cfg.WithDefaults().ShiftEndTime
	shiftEnd, err := timeutil.ShiftEndTimestamp(record.DateOfPunch, endTime)
	if err != nil {
		return 0, err
	}
	if shiftEnd <= record.TimestampMillis && timeutil.MinutesOfDay(record.TimestampMillis) >= window.StartMinutes {
		nextDate, err := timeutil.NextBusinessDate(record.DateOfPunch)
		if err != nil {
			return 0, err
		}
		return timeutil.ShiftEndTimestamp(nextDate, endTime)
	}
	return shiftEnd, nil
}

// IsCheckedIn reports whether the user is currently checked in. Pure function
// of the ascending punch history, the shift config and "now"; re-derived on
// every query and never stored.
func IsCheckedIn(history []PunchRecord, cfg ShiftConfig, nowMillis int64) (bool, error) {
	last := lastRecord(history)
	if last == nil || last.Direction == DirectionOut {
		return false, nil
	}

	today := timeutil.BusinessDate(nowMillis)
	if last.DateOfPunch == today {
		return true, nil
	}

	window, err := cfg.Window()
	if err != nil {
		return false, err
	}
	if window.SpansTwoDays {
		shiftEnd, err := anchoredShiftEnd(last, cfg, window)
		if err != nil {
			return false, err
		}
		// Checked in yesterday on a shift that legitimately runs past
		// midnight and has not ended yet.
		if nowMillis < shiftEnd {
			return true, nil
		}
	}

	// Stale check-in, e.g. the user forgot to check out.
	return false, nil
}

// NextPunchBusinessDate decides which business date the upcoming punch is
// attributed to.
//
// Check-outs and first-ever punches always land on today's business date.
// A fresh check-in after an OUT on a midnight-spanning shift belongs to the
// next business date when the previous checkout happened at or after that
// shift's end instant, or when the new shift has already begun (now's clock
// minutes at or past the start minutes).
func NextPunchBusinessDate(history []PunchRecord, cfg ShiftConfig, nowMillis int64, next Direction) (string, error) {
	today := timeutil.BusinessDate(nowMillis)

	last := lastRecord(history)
	if next == DirectionOut || last == nil || last.Direction != DirectionOut {
		return today, nil
	}

	window, err := cfg.Window()
	if err != nil {
		return "", err
	}
	if !window.SpansTwoDays {
		// Multiple check-in/out cycles reuse the same business day.
		return today, nil
	}

	shiftEnd, err := anchoredShiftEnd(last, cfg, window)
	if err != nil {
		return "", err
	}
	if last.TimestampMillis >= shiftEnd {
		return timeutil.NextBusinessDate(today)
	}
	if timeutil.MinutesOfDay(nowMillis) >= window.StartMinutes {
		// The new shift has begun; it ends tomorrow and is dated so.
		return timeutil.NextBusinessDate(today)
	}
	return today, nil
}

// AutoCheckoutDue reports whether a synthetic AUTOCHECKOUT punch should be
// recorded: checked in, not on a break, and more than the configured
// threshold elapsed since the check-in. The caller appends the OUT punch
// itself; there is no special storage path.
func AutoCheckoutDue(history []PunchRecord, cfg ShiftConfig, nowMillis int64) (bool, error) {
	last := lastRecord(history)
	if last == nil || last.Direction != DirectionIn {
		return false, nil
	}
	if last.AttendanceStatus == StatusLunch || last.AttendanceStatus == StatusShortBreak {
		return false, nil
	}
	checkedIn, err := IsCheckedIn(history, cfg, nowMillis)
	if err != nil || !checkedIn {
		return false, err
	}
	elapsed := time.Duration(nowMillis-last.TimestampMillis) * time.Millisecond
	return elapsed >= cfg.WithDefaults().AutoCheckoutAfter, nil
}

// BeforeMinimumHours reports whether a check-out now would land before the
// configured minimum working hours have elapsed since the matching check-in.
// The store never blocks such a punch; the UI uses this to demand an explicit
// status tag first.
func BeforeMinimumHours(history []PunchRecord, cfg ShiftConfig, nowMillis int64) (bool, error) {
	last := lastRecord(history)
	if last == nil || last.Direction != DirectionIn {
		return false, nil
	}
	minimum := time.Duration(cfg.WithDefaults().MinimumWorkingHours * float64(time.Hour))
	elapsed := time.Duration(nowMillis-last.TimestampMillis) * time.Millisecond
	return elapsed < minimum, nil
}
