package domain

import (
	"fmt"
	"time"
)

var slaOffsets = map[Priority]time.Duration{
	PriorityP1: 4 * time.Hour,
	PriorityP2: 8 * time.Hour,
	PriorityP3: 24 * time.Hour,
	PriorityP4: 72 * time.Hour,
}

// SLAOffset returns the resolution window for a priority.
func SLAOffset(p Priority) (time.Duration, error) {
	offset, ok := slaOffsets[p]
	if !ok {
		return 0, fmt.Errorf("unknown priority %q", p)
	}
	return offset, nil
}

// SLADeadline computes the immutable deadline stamped on a ticket at creation.
func SLADeadline(p Priority, createdAt time.Time) (time.Time, error) {
	offset, err := SLAOffset(p)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.Add(offset), nil
}
