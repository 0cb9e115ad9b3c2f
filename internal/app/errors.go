package app

import (
	"errors"

	"github.com/hylla/podtrack/internal/domain"
)

// ErrNotFound and related errors describe lookup and persistence failures.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidMedia = errors.New("invalid media payload")
)

// ErrNoData and ErrMalformedPatch are re-exported so callers need only this package for errors.Is checks.
var (
	ErrNoData         = domain.ErrNoData
	ErrMalformedPatch = domain.ErrMalformedPatch
)
