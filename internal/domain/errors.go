package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidOutcome    = errors.New("invalid delivery outcome")
	ErrInvalidMediaRole  = errors.New("invalid media role")
	ErrInvalidFilename   = errors.New("invalid media filename")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrMalformedPatch    = errors.New("malformed event patch")
	ErrNoData            = errors.New("no events recorded")
	ErrInvalidChargeRate = errors.New("invalid charge policy")
)
