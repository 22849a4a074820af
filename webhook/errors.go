package webhook

import "errors"

var (
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidPolicy    = errors.New("invalid retry policy")
	ErrInvalidSecret    = errors.New("invalid signing secret")
	ErrNoTransformer    = errors.New("payload transforms are not configured")
)
