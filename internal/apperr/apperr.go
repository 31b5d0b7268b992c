// Package apperr defines the error kinds the HTTP layer maps to status codes.
package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid input")
	ErrForbidden = errors.New("forbidden")
)

// Error attaches a user-facing message to one of the kinds above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalid, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// FromPG translates pgx errors into error kinds. what names the entity for
// the message, e.g. "product". Errors it does not recognize are returned
// unchanged.
func FromPG(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return Conflict("%s already exists", what)
		case "23503":
			return NotFound("%s references a missing record", what)
		case "22P02":
			return Invalid("malformed %s id", what)
		}
	}
	return err
}
