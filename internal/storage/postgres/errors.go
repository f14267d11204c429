package postgres

import (
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// uniqueConstraint returns the name of the violated unique constraint, or ""
// when err is not a unique violation.
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}
