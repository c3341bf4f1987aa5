package reminders

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Planned is one reminder to send Offset before the appointment.
type Planned struct {
	Offset   time.Duration
	RemindAt time.Time
}

// Plan returns the reminders still ahead of now for an appointment starting
// at startsAt, earliest first. Offsets that are already past are skipped.
func Plan(startsAt, now time.Time, offsets []time.Duration) []Planned {
	if !startsAt.After(now) {
		return nil
	}
	seen := map[time.Duration]bool{}
	var out []Planned
	for _, off := range offsets {
		if off <= 0 || seen[off] {
			continue
		}
		seen[off] = true
		at := startsAt.Add(-off)
		if !at.After(now) {
			continue
		}
		out = append(out, Planned{Offset: off, RemindAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out
}

// ParseOffsets reads whole minutes such as ["1440", "120"].
func ParseOffsets(items []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(items))
	for _, item := range items {
		mins, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || mins <= 0 {
			return nil, fmt.Errorf("reminder offset %q must be a positive number of minutes", item)
		}
		out = append(out, time.Duration(mins)*time.Minute)
	}
	return out, nil
}
