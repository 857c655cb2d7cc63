package domain

import "fmt"

// Decision is the outcome of a transition request.
type Decision struct {
	Accepted bool
	Reason   string
}

var nextStatus = map[TicketStatus]TicketStatus{
	TicketStatusOpen:       TicketStatusAssigned,
	TicketStatusAssigned:   TicketStatusInProgress,
	TicketStatusInProgress: TicketStatusClosed,
}

// NextStatus returns the only status reachable from current. ok is false for
// Closed and for unknown statuses.
func NextStatus(current TicketStatus) (TicketStatus, bool) {
	next, ok := nextStatus[current]
	return next, ok
}

// DecideTransition accepts exactly one forward edge on Open→Assigned→In_Progress→Closed.
// Same-state requests are rejected.
func DecideTransition(current, requested TicketStatus) Decision {
	if !current.Valid() {
		return reject("unknown current status %q", current)
	}
	if !requested.Valid() {
		return reject("unknown requested status %q", requested)
	}
	if current == TicketStatusClosed {
		return reject("ticket is closed")
	}
	if current == requested {
		return reject("ticket is already %s", current)
	}
	next := nextStatus[current]
	if requested != next {
		return reject("%s -> %s is not allowed; next status is %s", current, requested, next)
	}
	return Decision{Accepted: true}
}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}
