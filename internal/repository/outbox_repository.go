package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

const outboxColumns = `event_id, event_type, correlation_id, payload, state, attempts, last_error,
               claimed_until, delivered_at, created_at, updated_at`

type outboxRepository struct {
	db DBTX
}

// NewOutboxRepository builds the integration outbox repository.
func NewOutboxRepository(db DBTX) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, event domain.IntegrationEvent) error {
	const query = `
        INSERT INTO integration_outbox (event_id, event_type, correlation_id, payload, state, attempts, last_error, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,0,'',$6,$6)`
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := r.db.Exec(ctx, query,
		event.EventID,
		event.EventType,
		event.CorrelationID,
		payload,
		domain.DeliveryPending,
		event.Timestamp,
	)
	return err
}

func (r *outboxRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
        UPDATE integration_outbox SET state=$2, claimed_until=$3, updated_at=$1
        WHERE event_id IN (
            SELECT event_id FROM integration_outbox
            WHERE state=$4 OR (state=$2 AND claimed_until < $1)
            ORDER BY created_at ASC
            LIMIT $5
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + outboxColumns
	rows, err := r.db.Query(ctx, query,
		now,
		domain.DeliveryInFlight,
		now.Add(lease),
		domain.DeliveryPending,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records, err := scanOutboxRecords(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, eventID string, attempts int, at time.Time) error {
	const query = `
        UPDATE integration_outbox
        SET state=$1, attempts=$2, last_error='', claimed_until=NULL, delivered_at=$3, updated_at=$3
        WHERE event_id=$4 AND state=$5`
	return r.transition(ctx, eventID, query, domain.DeliveryDelivered, attempts, at, eventID, domain.DeliveryInFlight)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error {
	const query = `
        UPDATE integration_outbox
        SET state=$1, attempts=$2, last_error=$3, claimed_until=NULL, updated_at=$4
        WHERE event_id=$5 AND state=$6`
	return r.transition(ctx, eventID, query, domain.DeliveryFailed, attempts, lastErr, at, eventID, domain.DeliveryInFlight)
}

func (r *outboxRepository) Release(ctx context.Context, eventID string, attempts int, lastErr string, at time.Time) error {
	const query = `
        UPDATE integration_outbox
        SET state=$1, attempts=$2, last_error=$3, claimed_until=NULL, updated_at=$4
        WHERE event_id=$5 AND state=$6`
	return r.transition(ctx, eventID, query, domain.DeliveryPending, attempts, lastErr, at, eventID, domain.DeliveryInFlight)
}

func (r *outboxRepository) Requeue(ctx context.Context, eventID string, at time.Time) error {
	const query = `
        UPDATE integration_outbox
        SET state=$1, attempts=0, claimed_until=NULL, updated_at=$2
        WHERE event_id=$3 AND state=$4`
	return r.transition(ctx, eventID, query, domain.DeliveryPending, at, eventID, domain.DeliveryFailed)
}

func (r *outboxRepository) Get(ctx context.Context, eventID string) (*domain.OutboxRecord, error) {
	query := `SELECT ` + outboxColumns + ` FROM integration_outbox WHERE event_id=$1`
	record, err := scanOutboxRecord(r.db.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *outboxRepository) List(ctx context.Context, filter OutboxFilter) ([]domain.OutboxRecord, int, error) {
	where := "1=1"
	args := []any{}
	if filter.State != nil {
		args = append(args, *filter.State)
		where = "state=$1"
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM integration_outbox WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM integration_outbox WHERE %s ORDER BY created_at ASC, event_id ASC LIMIT %d OFFSET %d`,
		outboxColumns, where, limit, offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records, err := scanOutboxRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// transition runs a guarded state update and distinguishes a missing record
// from one in the wrong state.
func (r *outboxRepository) transition(ctx context.Context, eventID, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, eventID); err != nil {
		return err
	}
	return ErrStateConflict
}

func scanOutboxRecord(row pgx.Row) (*domain.OutboxRecord, error) {
	var record domain.OutboxRecord
	if err := row.Scan(
		&record.Event.EventID,
		&record.Event.EventType,
		&record.Event.CorrelationID,
		&record.Event.Payload,
		&record.State,
		&record.Attempts,
		&record.LastError,
		&record.ClaimedUntil,
		&record.DeliveredAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Event.Timestamp = record.CreatedAt
	return &record, nil
}

func scanOutboxRecords(rows pgx.Rows) ([]domain.OutboxRecord, error) {
	result := []domain.OutboxRecord{}
	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}
