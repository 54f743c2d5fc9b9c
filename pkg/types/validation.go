package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MaxContentBytes bounds a single message body
const MaxContentBytes = 65536

// Validate checks the identity loaded at session start
func (i Identity) Validate() error {
	if i.UserID <= 0 {
		return ErrInvalidUserID
	}
	if !IsValidRole(i.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidRole accepts only the two marketplace roles
func IsValidRole(r Role) bool {
	switch r {
	case RoleStudent, RoleTutor:
		return true
	default:
		return false
	}
}

// ValidateContent trims and bounds an outbound message body.
// FUNCTIONAL DISCOVERY: Blank content is never sent on either delivery path.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if len(trimmed) > MaxContentBytes {
		return "", ErrContentTooLarge
	}
	return trimmed, nil
}

// Validate ensures the slot has a day in range and an ordered time range
func (s AvailabilitySlot) Validate() error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return ErrInvalidDayOfWeek
	}
	start, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseTimeOfDay(s.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return ErrInvalidSlotRange
	}
	return nil
}

// ParseTimeOfDay parses HH:MM or HH:MM:SS into minutes since midnight
func ParseTimeOfDay(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	if len(parts) == 3 {
		// Fractional seconds are tolerated; only the hour and minute matter.
		sec := strings.SplitN(parts[2], ".", 2)[0]
		if s, err := strconv.Atoi(sec); err != nil || s < 0 || s > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
	}
	return hour*60 + minute, nil
}

// DecodeFrame parses one inbound live-channel payload.
// Error frames return ErrUnexpectedErrFrame and anything that is not a
// message with a positive id returns ErrMalformedFrame.
func DecodeFrame(data []byte) (*Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw, ok := probe["error"]; ok {
		var frame ErrorFrame
		_ = json.Unmarshal(bytes.TrimSpace(data), &frame)
		if frame.Error == "" {
			frame.Error = string(raw)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedErrFrame, frame.Error)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedFrame)
	}
	return &msg, nil
}
