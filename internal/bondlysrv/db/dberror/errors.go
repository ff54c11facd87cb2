package dberror

import (
	"errors"
	"net/http"

	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/jackc/pgconn"
)

var (
	ErrDatabase      apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError).SetCode("PERSISTENCE_ERROR")
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound      apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound).SetCode("NOT_FOUND")
	ErrInvalidInput  apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest).SetCode("INVALID_INPUT")
)

// FromError maps driver errors onto the db error taxonomy.
func FromError(err error) apperrors.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrAlreadyExists.Err(err)
		case "22P02", "23502", "23514": // invalid text, not null, check
			return ErrInvalidInput.Err(err)
		}
	}
	return ErrDatabase.Err(err)
}
