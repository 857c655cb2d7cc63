// Package memory provides an in-process repository.Store for tests and local
// tooling. Transactions are serialized on one mutex and applied copy-on-write,
// so a failed unit of work leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/erp-ticketing/internal/domain"
	"github.com/spec-kit/erp-ticketing/internal/repository"
)

// Store implements repository.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	// Fault, when set, is consulted before every repository call and may return
	// an error to simulate a storage failure.
	Fault func(op string) error
}

type state struct {
	sequences map[string]int64
	tickets   map[string]*domain.Ticket
	audit     map[string][]domain.AuditEntry
	outbox    map[string]*domain.OutboxRecord
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		sequences: map[string]int64{},
		tickets:   map[string]*domain.Ticket{},
		audit:     map[string][]domain.AuditEntry{},
		outbox:    map[string]*domain.OutboxRecord{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.sequences {
		cp.sequences[k] = v
	}
	for k, v := range s.tickets {
		cp.tickets[k] = v.Clone()
	}
	for k, v := range s.audit {
		cp.audit[k] = append([]domain.AuditEntry(nil), v...)
	}
	for k, v := range s.outbox {
		cp.outbox[k] = cloneRecord(v)
	}
	return cp
}

// Repos returns auto-committing repositories.
func (s *Store) Repos() repository.Repositories {
	return s.bind(nil)
}

// WithTx runs fn against a private copy of the state and publishes it only
// when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(s.bind(working)); err != nil {
		return err
	}
	s.state = working
	return nil
}

// SetSequence seeds the counter for (module, day). Used to simulate counter
// state lost or restored out of band.
func (s *Store) SetSequence(module domain.Module, day string, last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.sequences[sequenceKey(module, day)] = last
}

func (s *Store) bind(st *state) repository.Repositories {
	v := &view{store: s, st: st}
	return repository.Repositories{
		Sequences: &sequenceRepo{v},
		Tickets:   &ticketRepo{v},
		Audit:     &auditRepo{v},
		Outbox:    &outboxRepo{v},
	}
}

// view runs operations either on a transaction's working copy (already
// guarded by the store mutex) or directly on the committed state.
type view struct {
	store *Store
	st    *state
}

func (v *view) do(ctx context.Context, op string, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.store.Fault != nil {
		if err := v.store.Fault(op); err != nil {
			return err
		}
	}
	if v.st != nil {
		return fn(v.st)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

func sequenceKey(module domain.Module, day string) string {
	return string(module) + "/" + day
}

type sequenceRepo struct{ v *view }

func (r *sequenceRepo) Next(ctx context.Context, module domain.Module, day string) (int64, error) {
	var next int64
	err := r.v.do(ctx, "sequences.next", func(st *state) error {
		key := sequenceKey(module, day)
		st.sequences[key]++
		next = st.sequences[key]
		return nil
	})
	return next, err
}

type ticketRepo struct{ v *view }

func (r *ticketRepo) Insert(ctx context.Context, ticket *domain.Ticket) error {
	return r.v.do(ctx, "tickets.insert", func(st *state) error {
		if _, ok := st.tickets[ticket.ID]; ok {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateTicketID, ticket.ID)
		}
		if openProcurement(ticket) {
			for _, existing := range st.tickets {
				if openProcurement(existing) && existing.Module == ticket.Module && existing.DomainRef == ticket.DomainRef {
					return fmt.Errorf("%w: %s", repository.ErrOpenReorderExists, ticket.DomainRef)
				}
			}
		}
		st.tickets[ticket.ID] = ticket.Clone()
		return nil
	})
}

func openProcurement(t *domain.Ticket) bool {
	return t.Type == domain.TicketTypeProcurement && t.Status != domain.TicketStatusClosed && t.DomainRef != ""
}

func (r *ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var found *domain.Ticket
	err := r.v.do(ctx, "tickets.get", func(st *state) error {
		t, ok := st.tickets[id]
		if !ok {
			return repository.ErrNotFound
		}
		found = t.Clone()
		return nil
	})
	return found, err
}

func (r *ticketRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) UpdateStatus(ctx context.Context, ticket *domain.Ticket, expectedVersion int) error {
	return r.v.do(ctx, "tickets.update_status", func(st *state) error {
		stored, ok := st.tickets[ticket.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != expectedVersion {
			return repository.ErrVersionConflict
		}
		updated := stored.Clone()
		updated.Status = ticket.Status
		updated.Version = ticket.Version
		updated.UpdatedAt = ticket.UpdatedAt
		updated.ClosedAt = nil
		if ticket.ClosedAt != nil {
			closed := *ticket.ClosedAt
			updated.ClosedAt = &closed
		}
		st.tickets[ticket.ID] = updated
		return nil
	})
}

func (r *ticketRepo) FindOpenByReference(ctx context.Context, module domain.Module, ticketType domain.TicketType, ref string) (*domain.Ticket, error) {
	var found *domain.Ticket
	err := r.v.do(ctx, "tickets.find_open", func(st *state) error {
		for _, t := range st.tickets {
			if t.Module != module || t.Type != ticketType || t.DomainRef != ref || t.Status == domain.TicketStatusClosed {
				continue
			}
			if found == nil || t.CreatedAt.Before(found.CreatedAt) {
				found = t
			}
		}
		if found == nil {
			return repository.ErrNotFound
		}
		found = found.Clone()
		return nil
	})
	return found, err
}

// LockReference is a no-op: transactions already run one at a time.
func (r *ticketRepo) LockReference(ctx context.Context, key string) error {
	return r.v.do(ctx, "tickets.lock_reference", func(*state) error { return nil })
}

func (r *ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	var (
		page  []domain.Ticket
		total int
	)
	err := r.v.do(ctx, "tickets.list", func(st *state) error {
		matched := make([]domain.Ticket, 0, len(st.tickets))
		for _, t := range st.tickets {
			if filter.Module != nil && t.Module != *filter.Module {
				continue
			}
			if filter.Status != nil && t.Status != *filter.Status {
				continue
			}
			if filter.Priority != nil && t.Priority != *filter.Priority {
				continue
			}
			matched = append(matched, *t.Clone())
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID > matched[j].ID
		})
		total = len(matched)
		limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
		page = window(matched, limit, offset)
		return nil
	})
	return page, total, err
}

type auditRepo struct{ v *view }

func (r *auditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	return r.v.do(ctx, "audit.append", func(st *state) error {
		if _, ok := st.tickets[entry.TicketID]; !ok {
			return fmt.Errorf("audit entry for unknown ticket %s", entry.TicketID)
		}
		for _, existing := range st.audit[entry.TicketID] {
			if existing.ChangedAt.Equal(entry.ChangedAt) {
				return fmt.Errorf("audit entry for %s at %s already exists", entry.TicketID, entry.ChangedAt)
			}
		}
		st.audit[entry.TicketID] = append(st.audit[entry.TicketID], *entry)
		return nil
	})
}

func (r *auditRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := r.v.do(ctx, "audit.list", func(st *state) error {
		entries = append([]domain.AuditEntry{}, st.audit[ticketID]...)
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].ChangedAt.Before(entries[j].ChangedAt)
		})
		return nil
	})
	return entries, err
}

type outboxRepo struct{ v *view }

func (r *outboxRepo) Enqueue(ctx context.Context, event domain.IntegrationEvent) error {
	return r.v.do(ctx, "outbox.enqueue", func(st *state) error {
		if _, ok := st.outbox[event.EventID]; ok {
			return fmt.Errorf("outbox event %s already exists", event.EventID)
		}
		st.outbox[event.EventID] = &domain.OutboxRecord{
			Event:     cloneEvent(event),
			State:     domain.DeliveryPending,
			CreatedAt: event.Timestamp,
			UpdatedAt: event.Timestamp,
		}
		return nil
	})
}

func (r *outboxRepo) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxRecord, error) {
	var claimed []domain.OutboxRecord
	err := r.v.do(ctx, "outbox.claim", func(st *state) error {
		candidates := make([]*domain.OutboxRecord, 0)
		for _, rec := range st.outbox {
			switch {
			case rec.State == domain.DeliveryPending:
			case rec.State == domain.DeliveryInFlight && rec.ClaimedUntil != nil && rec.ClaimedUntil.Before(now):
			default:
				continue
			}
			candidates = append(candidates, rec)
		}
		sortRecords(candidates)
		if limit < len(candidates) {
			candidates = candidates[:max(limit, 0)]
		}
		until := now.Add(lease)
		for _, rec := range candidates {
			rec.State = domain.DeliveryInFlight
			rec.ClaimedUntil = &until
			rec.UpdatedAt = now
			claimed = append(claimed, *cloneRecord(rec))
		}
		return nil
	})
	return claimed, err
}

func (r *outboxRepo) MarkDelivered(ctx context.Context, eventID string, attempts int, at time.Time) error {
	return r.transition(ctx, "outbox.mark_delivered", eventID, domain.DeliveryInFlight, func(rec *domain.OutboxRecord) {
		rec.State = domain.DeliveryDelivered
		rec.Attempts = attempts
		rec.LastError = ""
		rec.ClaimedUntil = nil
		rec.DeliveredAt = &at
		rec.UpdatedAt = at
	})
}

func (r *outboxRepo) MarkFailed(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error {
	return r.transition(ctx, "outbox.mark_failed", eventID, domain.DeliveryInFlight, func(rec *domain.OutboxRecord) {
		rec.State = domain.DeliveryFailed
		rec.Attempts = attempts
		rec.LastError = lastErr
		rec.ClaimedUntil = nil
		rec.UpdatedAt = at
	})
}

func (r *outboxRepo) Release(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error {
	return r.transition(ctx, "outbox.release", eventID, domain.DeliveryInFlight, func(rec *domain.OutboxRecord) {
		rec.State = domain.DeliveryPending
		rec.Attempts = attempts
		rec.LastError = lastErr
		rec.ClaimedUntil = nil
		rec.UpdatedAt = at
	})
}

func (r *outboxRepo) Requeue(ctx context.Context, eventID string, at time.Time) error {
	return r.transition(ctx, "outbox.requeue", eventID, domain.DeliveryFailed, func(rec *domain.OutboxRecord) {
		rec.State = domain.DeliveryPending
		rec.Attempts = 0
		rec.ClaimedUntil = nil
		rec.UpdatedAt = at
	})
}

func (r *outboxRepo) transition(ctx context.Context, op, eventID string, from domain.DeliveryState, apply func(*domain.OutboxRecord)) error {
	return r.v.do(ctx, op, func(st *state) error {
		rec, ok := st.outbox[eventID]
		if !ok {
			return repository.ErrNotFound
		}
		if rec.State != from {
			return repository.ErrStateConflict
		}
		apply(rec)
		return nil
	})
}

func (r *outboxRepo) Get(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	var found *domain.OutboxRecord
	err := r.v.do(ctx, "outbox.get", func(st *state) error {
		rec, ok := st.outbox[eventID]
		if !ok {
			return repository.ErrNotFound
		}
		found = cloneRecord(rec)
		return nil
	})
	return found, err
}

func (r *outboxRepo) List(ctx context.Context, filter repository.OutboxFilter) ([]domain.OutboxRecord, int, error) {
	var (
		page  []domain.OutboxRecord
		total int
	)
	err := r.v.do(ctx, "outbox.list", func(st *state) error {
		matched := make([]*domain.OutboxRecord, 0, len(st.outbox))
		for _, rec := range st.outbox {
			if filter.State != nil && rec.State != *filter.State {
				continue
			}
			matched = append(matched, rec)
		}
		sortRecords(matched)
		total = len(matched)
		limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
		for _, rec := range window(matched, limit, offset) {
			page = append(page, *cloneRecord(rec))
		}
		if page == nil {
			page = []domain.OutboxRecord{}
		}
		return nil
	})
	return page, total, err
}

func sortRecords(records []*domain.OutboxRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Event.EventID < records[j].Event.EventID
	})
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cloneEvent(e domain.IntegrationEvent) domain.IntegrationEvent {
	cp := e
	if e.Payload != nil {
		cp.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}

func cloneRecord(r *domain.OutboxRecord) *domain.OutboxRecord {
	cp := *r
	cp.Event = cloneEvent(r.Event)
	if r.ClaimedUntil != nil {
		until := *r.ClaimedUntil
		cp.ClaimedUntil = &until
	}
	if r.DeliveredAt != nil {
		at := *r.DeliveredAt
		cp.DeliveredAt = &at
	}
	return &cp
}
