package calendar

import (
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay bounds a time of day expressed in minutes since midnight.
const MinutesPerDay = 24 * 60

// ParseClock parses "HH:MM" (24h) into minutes since midnight. "24:00" is
// accepted as the end of the day.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	total := h*60 + m
	if total > MinutesPerDay {
		return 0, fmt.Errorf("invalid time %q: past end of day", s)
	}
	return total, nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
