package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
	ErrEmbedFailed  = errors.New("embed failed")
	ErrSearchFailed = errors.New("search failed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
