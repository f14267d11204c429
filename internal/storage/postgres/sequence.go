package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/couponhub/internal/domain/ident"
)

const nextSequenceSQL = `INSERT INTO id_sequences (kind, value) VALUES ($1, 1)
	ON CONFLICT (kind) DO UPDATE SET value = id_sequences.value + 1
	RETURNING value`

var _ ident.Sequence = (*SequenceRepository)(nil)

// SequenceRepository implements ident.Sequence with one counter row per kind.
type SequenceRepository struct {
	pool *pgxpool.Pool
}

// NewSequenceRepository returns a SequenceRepository that uses the given pool.
func NewSequenceRepository(pool *pgxpool.Pool) *SequenceRepository {
	return &SequenceRepository{pool: pool}
}

// Next increments and returns the counter for kind in one statement.
func (r *SequenceRepository) Next(ctx context.Context, kind string) (int64, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, nextSequenceSQL, kind).Scan(&v); err != nil {
		return 0, fmt.Errorf("advancing sequence %q: %w", kind, err)
	}
	return v, nil
}

// Seed raises the counter for kind to at least value. The import tool uses it
// after loading records whose ids were allocated elsewhere.
func (r *SequenceRepository) Seed(ctx context.Context, kind string, value int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO id_sequences (kind, value) VALUES ($1, $2)
		ON CONFLICT (kind) DO UPDATE SET value = GREATEST(id_sequences.value, EXCLUDED.value)`, kind, value)
	if err != nil {
		return fmt.Errorf("seeding sequence %q: %w", kind, err)
	}
	return nil
}
