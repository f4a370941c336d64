package model

import "errors"

var (
	// ErrInvalidCallData is returned when a caller supplies negative token
	// counts or duration.
	ErrInvalidCallData = errors.New("invalid call data")

	// ErrPersistence is returned when a call record could not be written.
	ErrPersistence = errors.New("persist call record")

	// ErrStoreUnavailable is returned when the backing store cannot be read.
	ErrStoreUnavailable = errors.New("cost store unavailable")

	// ErrUnknownTier is returned for a tier outside the known set.
	ErrUnknownTier = errors.New("unknown model tier")
)
