package postgres

import (
	"strings"

	"github.com/mycelia/mycelia/errors"
)

// ErrDatabaseClosed is returned when an operation is attempted on a
// closed connection pool, typically during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err indicates the pool is closed,
// checking both our wrapped sentinel and the driver's raw message (the
// driver error cannot be wrapped at its source).
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

const nodeNotFoundErrCode = "P0002"
