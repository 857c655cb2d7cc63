package repository

import (
	"context"

	"github.com/spec-kit/erp-ticketing/internal/domain"
)

type sequenceRepository struct {
	db DBTX
}

// NewSequenceRepository builds the counter repository.
func NewSequenceRepository(db DBTX) SequenceRepository {
	return &sequenceRepository{db: db}
}

func (r *sequenceRepository) Next(ctx context.Context, module domain.Module, day string) (int64, error) {
	const query = `
        INSERT INTO ticket_sequences (module, day, last_issued)
        VALUES ($1, $2, 1)
        ON CONFLICT (module, day) DO UPDATE SET last_issued = ticket_sequences.last_issued + 1
        RETURNING last_issued`
	var seq int64
	if err := r.db.QueryRow(ctx, query, module, day).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
