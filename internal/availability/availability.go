// Package availability renders another user's posted weekly slots for display.
package availability

import (
	"context"
	"fmt"
	"strings"

	"tutorchat/pkg/interfaces"
	"tutorchat/pkg/types"
)

var dayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// DayGroup is one day's formatted ranges, in the order the server listed them
type DayGroup struct {
	DayOfWeek int      `json:"day_of_week"`
	Label     string   `json:"label"`
	Ranges    []string `json:"ranges"`
}

// Viewer loads and formats availability. Nothing is cached.
type Viewer struct {
	source interfaces.AvailabilitySource
}

// NewViewer creates a viewer over the availability endpoint
func NewViewer(source interfaces.AvailabilitySource) *Viewer {
	return &Viewer{source: source}
}

// Load fetches userID's slots and groups them
func (v *Viewer) Load(ctx context.Context, userID int64) ([]DayGroup, error) {
	slots, err := v.source.ListAvailability(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load availability for user %d: %w", userID, err)
	}
	return Group(slots), nil
}

// Group buckets slots by day. Days appear in first-appearance order, not
// calendar order, and slots keep their input order within a day.
func Group(slots []types.AvailabilitySlot) []DayGroup {
	groups := []DayGroup{}
	index := make(map[int]int)

	for _, slot := range slots {
		i, ok := index[slot.DayOfWeek]
		if !ok {
			i = len(groups)
			index[slot.DayOfWeek] = i
			groups = append(groups, DayGroup{DayOfWeek: slot.DayOfWeek, Label: DayLabel(slot.DayOfWeek)})
		}
		groups[i].Ranges = append(groups[i].Ranges, FormatTime(slot.StartTime)+" - "+FormatTime(slot.EndTime))
	}
	return groups
}

// DayLabel maps 0..6 to Mon..Sun and anything else to "Day N"
func DayLabel(day int) string {
	if day >= 0 && day < len(dayNames) {
		return dayNames[day]
	}
	return fmt.Sprintf("Day %d", day)
}

// FormatTime turns "HH:MM[:SS]" into "h:MM AM|PM". A missing minute reads as
// zero; a value whose hour or minute has no leading digits is returned as-is.
func FormatTime(value string) string {
	parts := strings.Split(value, ":")
	rawHour, rawMinute := parts[0], "0"
	if len(parts) > 1 {
		rawMinute = parts[1]
	}

	hour, ok := parseLeadingInt(rawHour)
	if !ok {
		return value
	}
	minute, ok := parseLeadingInt(rawMinute)
	if !ok {
		return value
	}

	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	hour12 := ((hour+11)%12 + 1)
	return fmt.Sprintf("%d:%02d %s", hour12, minute, suffix)
}

// parseLeadingInt reads an optionally signed run of leading digits after
// leading whitespace, ignoring whatever follows
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	sign := 1
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}

	n, digits := 0, 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		n = n*10 + int(s[digits]-'0')
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	return sign * n, true
}
