package addon

import (
	"errors"
	"fmt"
)

// Add-on scoped errors. The runtime contains all of them at its boundary and
// reports them per add-on; none of them stops the hub.
// Use errors.Is() to classify an error returned by the runtime.
var (
	// ErrDuplicateName is returned by Register when the name is taken.
	ErrDuplicateName = errors.New("addon: duplicate name")

	// ErrConfiguration marks required configuration that is absent or malformed.
	ErrConfiguration = errors.New("addon: configuration error")

	// ErrInstantiation marks any other failure inside Factory.Create.
	ErrInstantiation = errors.New("addon: instantiation error")

	// ErrIdentityMismatch is returned when an add-on's Name (or the name in
	// its configuration slice) disagrees with its descriptor.
	ErrIdentityMismatch = errors.New("addon: identity mismatch")

	// ErrInitialization wraps a failure returned by AddOn.Init.
	ErrInitialization = errors.New("addon: initialization error")

	// ErrFailure wraps a failure an add-on reported after it started running.
	ErrFailure = errors.New("addon: runtime failure")

	// ErrDestroy wraps a failure returned by AddOn.Destroy.
	ErrDestroy = errors.New("addon: destroy error")

	// ErrNotFound is returned by Storage when a key does not exist.
	ErrNotFound = errors.New("addon: key not found")
)

// Configurationf returns an error wrapping ErrConfiguration.
// Factories use it for missing or malformed options.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
