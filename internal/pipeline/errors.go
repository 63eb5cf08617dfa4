package pipeline

import "errors"

var (
	// ErrInvalidInput marks a malformed event or missing required field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownTrackingCode marks a tracking code with no active website.
	ErrUnknownTrackingCode = errors.New("unknown tracking code")
	// ErrPersistence marks a visit dropped after the storage retry failed.
	ErrPersistence = errors.New("visit persistence failed")
)
