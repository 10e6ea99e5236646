package database

import (
	"errors"

	"team-collab-backend/pkg/apperr"
)

// Classify turns a store error into the service error taxonomy.
// ErrNotFound becomes NotFound with notFoundCode, ErrVersionConflict a Conflict,
// ErrAlreadyExists a Conflict, anything else Transient.
func Classify(err error, notFoundCode, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, notFoundCode, what+" not found", err)
	case errors.Is(err, ErrVersionConflict):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeVersionConflict, what+" was modified concurrently", err)
	case errors.Is(err, ErrAlreadyExists):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeAlreadyExists, what+" already exists", err)
	}
	return apperr.Transient("storage unavailable", err)
}
