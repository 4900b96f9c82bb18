package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the pipelines. Callers wrap them with fmt.Errorf("%w") and the
// HTTP layer classifies with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrIO         = errors.New("io error")
	ErrParse      = errors.New("parse error")
	ErrStore      = errors.New("store error")
	ErrGeneration = errors.New("generation error")
)

// WithKind tags err with kind unless it already carries it.
func WithKind(kind, err error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
