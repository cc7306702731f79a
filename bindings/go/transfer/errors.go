package transfer

import (
	"errors"

	"ocm.software/open-component-model/hangar/bindings/go/imagelist"
)

var (
	// ErrTransferFailed marks a spec or job that could not be copied.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrValidationMismatch marks a destination that does not hold the source digest.
	ErrValidationMismatch = errors.New("validation mismatch")
	// ErrPartialFailure is returned by Report.Err if at least one spec failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrAmbiguousReference is recorded for specs that leave no platform to copy.
	ErrAmbiguousReference = imagelist.ErrAmbiguousReference
)
