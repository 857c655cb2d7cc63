package domain

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTicketID(t *testing.T) {
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	testCases := []struct {
		name   string
		module Module
		seq    int64
		want   string
	}{
		{"first of day", ModulePM, 1, "TKT-PM-20240115-0001"},
		{"padded", ModuleMM, 42, "TKT-MM-20240115-0042"},
		{"four digits", ModuleFI, 9999, "TKT-FI-20240115-9999"},
		{"widens past 9999", ModuleFI, 10000, "TKT-FI-20240115-10000"},
		{"large", ModulePM, 1234567, "TKT-PM-20240115-1234567"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatTicketID(tc.module, created, tc.seq, nil)
			if got != tc.want {
				t.Errorf("FormatTicketID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatTicketID_UsesReferenceZone(t *testing.T) {
	// 23:30 UTC on Jan 15 is already Jan 16 in UTC+2.
	created := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	plusTwo := time.FixedZone("UTC+2", 2*60*60)

	if got := FormatTicketID(ModulePM, created, 3, time.UTC); got != "TKT-PM-20240115-0003" {
		t.Errorf("UTC id = %q", got)
	}
	if got := FormatTicketID(ModulePM, created, 3, plusTwo); got != "TKT-PM-20240116-0003" {
		t.Errorf("UTC+2 id = %q", got)
	}
}

func TestParseTicketID(t *testing.T) {
	parts, err := ParseTicketID("TKT-MM-20240115-10000")
	if err != nil {
		t.Fatalf("ParseTicketID: %v", err)
	}
	if parts.Module != ModuleMM || parts.Day != "20240115" || parts.Sequence != 10000 {
		t.Errorf("parts = %+v", parts)
	}

	bad := []string{
		"",
		"TKT-PM-20240115",
		"TCK-PM-20240115-0001",
		"TKT-XX-20240115-0001",
		"TKT-PM-2024011-0001",
		"TKT-PM-20241315-0001",
		"TKT-PM-20240115-001",
		"TKT-PM-20240115-abcd",
		"TKT-PM-20240115-0000",
	}
	for _, id := range bad {
		if _, err := ParseTicketID(id); err == nil {
			t.Errorf("ParseTicketID(%q) should fail", id)
		}
	}
}

func TestSLADeadline(t *testing.T) {
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	testCases := []struct {
		priority Priority
		want     time.Duration
	}{
		{PriorityP1, 4 * time.Hour},
		{PriorityP2, 8 * time.Hour},
		{PriorityP3, 24 * time.Hour},
		{PriorityP4, 72 * time.Hour},
	}
	for _, tc := range testCases {
		deadline, err := SLADeadline(tc.priority, created)
		if err != nil {
			t.Fatalf("SLADeadline(%s): %v", tc.priority, err)
		}
		if got := deadline.Sub(created); got != tc.want {
			t.Errorf("SLADeadline(%s) offset = %s, want %s", tc.priority, got, tc.want)
		}
	}

	if _, err := SLADeadline(Priority("P5"), created); err == nil {
		t.Error("unknown priority should be rejected")
	}
	if _, err := SLADeadline(Priority(""), created); err == nil {
		t.Error("empty priority should be rejected")
	}
}

func TestDecideTransition_Grid(t *testing.T) {
	statuses := []TicketStatus{TicketStatusOpen, TicketStatusAssigned, TicketStatusInProgress, TicketStatusClosed}
	allowed := map[[2]TicketStatus]bool{
		{TicketStatusOpen, TicketStatusAssigned}:       true,
		{TicketStatusAssigned, TicketStatusInProgress}: true,
		{TicketStatusInProgress, TicketStatusClosed}:   true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			d := DecideTransition(from, to)
			want := allowed[[2]TicketStatus{from, to}]
			if d.Accepted != want {
				t.Errorf("%s -> %s accepted = %v, want %v", from, to, d.Accepted, want)
			}
			if !d.Accepted && d.Reason == "" {
				t.Errorf("%s -> %s rejected without reason", from, to)
			}
		}
	}
}

func TestDecideTransition_Reasons(t *testing.T) {
	if d := DecideTransition(TicketStatusClosed, TicketStatusOpen); !strings.Contains(d.Reason, "closed") {
		t.Errorf("reason = %q", d.Reason)
	}
	if d := DecideTransition(TicketStatusOpen, TicketStatusOpen); !strings.Contains(d.Reason, "already") {
		t.Errorf("reason = %q", d.Reason)
	}
	if d := DecideTransition(TicketStatusOpen, TicketStatusInProgress); !strings.Contains(d.Reason, "Assigned") {
		t.Errorf("reason = %q", d.Reason)
	}
	if d := DecideTransition(TicketStatus("Resolved"), TicketStatusClosed); d.Accepted {
		t.Error("unknown current status accepted")
	}
	if d := DecideTransition(TicketStatusOpen, TicketStatus("open")); d.Accepted {
		t.Error("unknown requested status accepted")
	}
}

func TestNextStatus(t *testing.T) {
	if next, ok := NextStatus(TicketStatusOpen); !ok || next != TicketStatusAssigned {
		t.Errorf("NextStatus(Open) = %s, %v", next, ok)
	}
	if _, ok := NextStatus(TicketStatusClosed); ok {
		t.Error("Closed should have no next status")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseModule("PM"); err != nil {
		t.Errorf("ParseModule(PM): %v", err)
	}
	if _, err := ParseModule("pm"); err == nil {
		t.Error("ParseModule should be case sensitive")
	}
	if _, err := ParseTicketType("Finance_Approval"); err != nil {
		t.Errorf("ParseTicketType: %v", err)
	}
	if _, err := ParseTicketType("Change"); err == nil {
		t.Error("unknown ticket type accepted")
	}
	if _, err := ParsePriority("P4"); err != nil {
		t.Errorf("ParsePriority: %v", err)
	}
	if _, err := ParsePriority("HIGH"); err == nil {
		t.Error("unknown priority accepted")
	}
	if _, err := ParseTicketStatus("In_Progress"); err != nil {
		t.Errorf("ParseTicketStatus: %v", err)
	}
	if _, err := ParseTicketStatus("IN_PROGRESS"); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestValidAuditTrail(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	open, assigned := TicketStatusOpen, TicketStatusAssigned
	good := []AuditEntry{
		{NewStatus: TicketStatusOpen, ChangedAt: base},
		{PreviousStatus: &open, NewStatus: TicketStatusAssigned, ChangedAt: base.Add(time.Minute)},
		{PreviousStatus: &assigned, NewStatus: TicketStatusInProgress, ChangedAt: base.Add(2 * time.Minute)},
	}
	if !ValidAuditTrail(good) {
		t.Error("valid trail rejected")
	}

	skipped := []AuditEntry{
		{NewStatus: TicketStatusOpen, ChangedAt: base},
		{PreviousStatus: &open, NewStatus: TicketStatusInProgress, ChangedAt: base.Add(time.Minute)},
	}
	if ValidAuditTrail(skipped) {
		t.Error("skipping trail accepted")
	}

	sameTime := []AuditEntry{
		{NewStatus: TicketStatusOpen, ChangedAt: base},
		{PreviousStatus: &open, NewStatus: TicketStatusAssigned, ChangedAt: base},
	}
	if ValidAuditTrail(sameTime) {
		t.Error("non-increasing changed_at accepted")
	}
	if ValidAuditTrail(nil) {
		t.Error("empty trail accepted")
	}
}

func TestTicketSLABreached(t *testing.T) {
	deadline := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	ticket := &Ticket{Status: TicketStatusInProgress, SLADeadline: deadline}
	if ticket.SLABreached(deadline) {
		t.Error("not breached at the deadline itself")
	}
	if !ticket.SLABreached(deadline.Add(time.Second)) {
		t.Error("should be breached after deadline")
	}
	ticket.Status = TicketStatusClosed
	if ticket.SLABreached(deadline.Add(time.Hour)) {
		t.Error("closed tickets are never breached")
	}
}

func TestTicketClone(t *testing.T) {
	closed := time.Now()
	orig := &Ticket{ID: "TKT-PM-20240115-0001", Details: map[string]any{"a": 1}, ClosedAt: &closed}
	cp := orig.Clone()
	cp.Details["a"] = 2
	*cp.ClosedAt = closed.Add(time.Hour)
	if orig.Details["a"] != 1 {
		t.Error("clone shares details map")
	}
	if !orig.ClosedAt.Equal(closed) {
		t.Error("clone shares closed_at")
	}
}
