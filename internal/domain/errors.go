package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes: bad coordinates, dates, or keys.
	ErrInvalidInput = errors.New("invalid input")

	ErrCoordinatesOutOfRange = fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	ErrInvalidRadius         = fmt.Errorf("%w: radius must be a non-negative integer", ErrInvalidInput)
	ErrInvalidDateFormat     = fmt.Errorf("%w: incorrect date format", ErrInvalidInput)
	ErrInvalidHour           = fmt.Errorf("%w: hour must be an integer between 0 and 23", ErrInvalidInput)

	// ErrUpstreamUnavailable wraps any failure to reach or decode an upstream feed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
