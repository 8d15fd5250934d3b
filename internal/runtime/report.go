package runtime

import (
	"time"

	"go.uber.org/multierr"
)

// Failure pairs an add-on name with the error that stopped it.
type Failure struct {
	Name string
	Err  error
}

// StartupReport is the composite result of StartAll.
// Partial success is a supported state; the host decides whether to accept it.
type StartupReport struct {
	// Succeeded lists add-ons that reached Running, in start order.
	Succeeded []string

	// Failed lists add-ons that failed at create, bind or init time.
	Failed []Failure

	// Skipped lists add-ons disabled in configuration.
	Skipped []string
}

// OK reports whether every enabled add-on initialized.
func (r *StartupReport) OK() bool {
	return len(r.Failed) == 0
}

// Err combines all startup failures into one error, or nil.
func (r *StartupReport) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, f.Err)
	}
	return err
}

func (r *StartupReport) fail(name string, err error) {
	r.Failed = append(r.Failed, Failure{Name: name, Err: err})
}

// ShutdownReport is the result of StopAll. It never aborts early; every
// destroy failure is listed.
type ShutdownReport struct {
	// Destroyed lists add-ons whose Destroy was called, in stop order.
	Destroyed []string

	// DestroyFailed lists add-ons whose Destroy returned an error.
	DestroyFailed []Failure
}

// OK reports whether every Destroy call succeeded.
func (r *ShutdownReport) OK() bool {
	return len(r.DestroyFailed) == 0
}

// Err combines all destroy failures into one error, or nil.
func (r *ShutdownReport) Err() error {
	var err error
	for _, f := range r.DestroyFailed {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Status is the host-visible view of one tracked add-on.
type Status struct {
	Name  string
	State State

	// Err is the failure recorded when the instance entered Failed. It is
	// kept after cleanup so a destroyed add-on still shows why it failed.
	Err error

	// DestroyErr is set when Destroy returned an error.
	DestroyErr error

	// Since is the time of the last state transition.
	Since time.Time
}
