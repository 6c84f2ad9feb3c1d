package availability

import (
	"testing"
	"time"
)

func TestFreeSlots_Basic(t *testing.T) {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	dayStart := day.Add(9 * time.Hour)
	dayEnd := day.Add(10 * time.Hour)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := FreeSlots(dayStart, dayEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestFreeSlots_BackToBackNotBusy(t *testing.T) {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	dayStart := day.Add(9 * time.Hour)
	dayEnd := day.Add(10 * time.Hour)

	// Busy 09:00-09:30; a 30m slot starting exactly at 09:30 is free.
	busy := []Interval{
		{Start: dayStart, End: dayStart.Add(30 * time.Minute)},
	}
	slots := FreeSlots(dayStart, dayEnd, 30*time.Minute, 30*time.Minute, busy, day)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(dayStart.Add(30 * time.Minute)) {
		t.Fatalf("expected slot 09:30, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestFreeSlots_HonorsEarliest(t *testing.T) {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	dayStart := day.Add(9 * time.Hour)
	dayEnd := day.Add(10 * time.Hour)

	earliest := day.Add(9*time.Hour + 31*time.Minute)
	slots := FreeSlots(dayStart, dayEnd, 15*time.Minute, 15*time.Minute, nil, earliest)
	// 09:00, 09:15, 09:30 start before earliest. 09:45 remains.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestFreeSlots_DegenerateInputs(t *testing.T) {
	day := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	if got := FreeSlots(day, day, 15*time.Minute, 15*time.Minute, nil, day); got != nil {
		t.Fatalf("expected nil for empty window, got %v", got)
	}
	if got := FreeSlots(day, day.Add(time.Hour), 0, 15*time.Minute, nil, day); got != nil {
		t.Fatalf("expected nil for zero duration, got %v", got)
	}
	if got := FreeSlots(day, day.Add(10*time.Minute), 15*time.Minute, 15*time.Minute, nil, day); got != nil {
		t.Fatalf("expected nil when duration exceeds window, got %v", got)
	}
}
