package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New("capture session already running")
	ErrNotRunning     = errors.New("capture session not running")
)

// ResourceAcquisitionError is returned by Start when the session could not get hold
// of something it needs. Everything acquired before the failure has been released.
type ResourceAcquisitionError struct {
	Resource string
	Err      error
}

func (e *ResourceAcquisitionError) Error() string {
	return fmt.Sprintf("cannot acquire %s: %v", e.Resource, e.Err)
}

func (e *ResourceAcquisitionError) Unwrap() error {
	return e.Err
}
