package dbutil

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Finalize rebinds gendry/sqlx "?" placeholders to the postgres dollar
// form.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// IsConflict reports whether err is a postgres unique violation.
func IsConflict(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
