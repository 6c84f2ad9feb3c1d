package availability

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// FreeSlots returns candidate start times within [dayStart, dayEnd) where an
// appointment of length duration would not overlap any busy interval. Slots
// starting before earliest are skipped, which is how the booking lead policy
// reaches slot listings.
//
// All times are expected to be UTC.
func FreeSlots(dayStart, dayEnd time.Time, duration, step time.Duration, busy []Interval, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !dayEnd.After(dayStart) {
		return nil
	}
	if dayStart.Add(duration).After(dayEnd) {
		return nil
	}

	var slots []time.Time
	for t := dayStart; !t.Add(duration).After(dayEnd); t = t.Add(step) {
		if t.Before(earliest) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
