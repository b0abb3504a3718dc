package worker

import "errors"

// Common errors returned by the manager and the registration.
var (
	// ErrInstallFailed is returned when the precache could not be populated.
	// Nothing from the failed attempt is committed.
	ErrInstallFailed = errors.New("install failed")

	// ErrInvalidState is returned for an event the current lifecycle state does not accept.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrClosed is returned for tasks started after Close and used as the
	// cancellation cause of tasks interrupted by Close.
	ErrClosed = errors.New("manager closed")

	// ErrNoController is returned by a registration with no manager to route an event to.
	ErrNoController = errors.New("no active manager")

	// ErrSyncRejected is returned when the origin answers a sync submission with a non-2xx status.
	ErrSyncRejected = errors.New("sync submission rejected")
)
