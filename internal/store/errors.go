package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyCommitted is returned by CommitMessage when the row was
// committed by someone else first.
var ErrAlreadyCommitted = errors.New("message already committed")

// IsConflict reports whether err is a serialization failure, a deadlock or a
// lock that could not be acquired. The request may be retried by the client.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	default:
		return false
	}
}
