package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	ticketIDPrefix   = "TKT"
	ticketDateLayout = "20060102"
	minSequenceWidth = 4
)

// TicketDay returns the YYYYMMDD key of t in loc. A nil loc means UTC.
func TicketDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(ticketDateLayout)
}

// FormatTicketID renders TKT-{MODULE}-{YYYYMMDD}-{SEQ}. The sequence is padded to
// four digits and widens past 9999 rather than truncating.
func FormatTicketID(module Module, createdAt time.Time, seq int64, loc *time.Location) string {
	return fmt.Sprintf("%s-%s-%s-%0*d", ticketIDPrefix, module, TicketDay(createdAt, loc), minSequenceWidth, seq)
}

// TicketIDParts is the decoded form of a ticket id.
type TicketIDParts struct {
	Module   Module
	Day      string
	Sequence int64
}

// ParseTicketID validates and decodes a ticket id.
func ParseTicketID(id string) (TicketIDParts, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 || parts[0] != ticketIDPrefix {
		return TicketIDParts{}, fmt.Errorf("malformed ticket id %q", id)
	}
	module, err := ParseModule(parts[1])
	if err != nil {
		return TicketIDParts{}, fmt.Errorf("malformed ticket id %q: %w", id, err)
	}
	if _, err := time.Parse(ticketDateLayout, parts[2]); err != nil || len(parts[2]) != len(ticketDateLayout) {
		return TicketIDParts{}, fmt.Errorf("malformed ticket id %q: bad date", id)
	}
	if len(parts[3]) < minSequenceWidth {
		return TicketIDParts{}, fmt.Errorf("malformed ticket id %q: short sequence", id)
	}
	seq, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || seq <= 0 {
		return TicketIDParts{}, fmt.Errorf("malformed ticket id %q: bad sequence", id)
	}
	return TicketIDParts{Module: module, Day: parts[2], Sequence: seq}, nil
}
