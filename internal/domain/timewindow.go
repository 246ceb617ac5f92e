package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// EndOfDay is the exclusive end of a calendar day, written "24:00". It is only
// meaningful as a window end.
const EndOfDay TimeOfDay = minutesPerDay

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" in 24-hour notation. Seconds
// must be zero. "24:00" denotes the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, NewValidationError("time must be formatted as HH:MM")
	}
	for _, p := range parts {
		if len(p) != 2 {
			return 0, NewValidationError("time must be formatted as HH:MM")
		}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, NewValidationError("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, NewValidationError("invalid minute")
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, NewValidationError("invalid second")
		}
		if sec != 0 {
			return 0, NewValidationError("time must fall on a whole minute")
		}
	}
	if h == 24 && m != 0 {
		return 0, NewValidationError("invalid hour")
	}
	return TimeOfDay(h*60 + m), nil
}

// Valid reports whether t lies in 00:00 .. 24:00 inclusive.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= EndOfDay
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On anchors the time of day to the calendar date of d as seen in loc.
func (t TimeOfDay) On(d time.Time, loc *time.Location) time.Time {
	d = d.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(t)/60, int(t)%60, 0, 0, loc)
}

// ValidDayOfWeek reports whether day is in 0 (Sunday) .. 6 (Saturday).
func ValidDayOfWeek(day int16) bool {
	return day >= int16(time.Sunday) && day <= int16(time.Saturday)
}

type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID string    `bun:"provider_id,notnull"`
	DayOfWeek  int16     `bun:"day_of_week,notnull"`
	StartTime  TimeOfDay `bun:"start_minute,notnull"`
	EndTime    TimeOfDay `bun:"end_minute,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

func (w AvailabilityWindow) Validate() error {
	if !ValidDayOfWeek(w.DayOfWeek) {
		return NewValidationError("day_of_week must be between 0 and 6")
	}
	if !w.StartTime.Valid() || !w.EndTime.Valid() {
		return NewValidationError("invalid time of day")
	}
	if w.StartTime >= w.EndTime {
		return NewValidationError("start_time must be before end_time")
	}
	return nil
}

// Overlaps reports whether two windows on the same day share any minute.
// Windows that only touch at an endpoint do not overlap.
func (w AvailabilityWindow) Overlaps(o AvailabilityWindow) bool {
	if w.DayOfWeek != o.DayOfWeek {
		return false
	}
	return w.StartTime < o.EndTime && o.StartTime < w.EndTime
}

// Contains reports whether [start, end) falls inside the window once the
// window is anchored to start's date in loc.
func (w AvailabilityWindow) Contains(start, end time.Time, loc *time.Location) bool {
	local := start.In(loc)
	if int16(local.Weekday()) != w.DayOfWeek {
		return false
	}
	ws := w.StartTime.On(local, loc)
	we := w.EndTime.On(local, loc)
	return !start.Before(ws) && !end.After(we)
}

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i.Start, i.End, o.Start, o.End)
}

// Overlaps is the half-open interval intersection test.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DayBounds returns the [midnight, next midnight) interval of d's date in loc.
func DayBounds(d time.Time, loc *time.Location) Interval {
	local := d.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}
