package domain

import (
	"sort"
	"time"
)

type Slot = Interval

// GenerateSlots walks every window for date's day of week in start order and
// emits back-to-back slots of the given duration that do not overlap busy.
// The step equals the duration, so no finer start offsets are produced.
// Windows are scanned independently and never merged.
func GenerateSlots(date time.Time, loc *time.Location, windows []AvailabilityWindow, busy []Interval, duration time.Duration) []Slot {
	if duration <= 0 {
		return nil
	}
	day := int16(date.In(loc).Weekday())

	ws := make([]AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		if w.DayOfWeek == day && w.StartTime < w.EndTime {
			ws = append(ws, w)
		}
	}
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].StartTime != ws[j].StartTime {
			return ws[i].StartTime < ws[j].StartTime
		}
		return ws[i].EndTime < ws[j].EndTime
	})

	out := make([]Slot, 0, 16)
	for _, w := range ws {
		windowEnd := w.EndTime.On(date, loc)
		for cursor := w.StartTime.On(date, loc); !cursor.Add(duration).After(windowEnd); cursor = cursor.Add(duration) {
			slot := Slot{Start: cursor, End: cursor.Add(duration)}
			if overlapsAny(slot, busy) {
				continue
			}
			out = append(out, slot)
		}
	}
	return out
}

// SlotAvailable validates a single requested slot the way GenerateSlots
// filters candidates: contained in some window and clear of busy.
func SlotAvailable(slot Slot, loc *time.Location, windows []AvailabilityWindow, busy []Interval) bool {
	contained := false
	for _, w := range windows {
		if w.Contains(slot.Start, slot.End, loc) {
			contained = true
			break
		}
	}
	return contained && !overlapsAny(slot, busy)
}

func overlapsAny(slot Slot, busy []Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}
