package types

import "errors"

// Sentinel errors shared across packages.
var (
	ErrPoolClosed      = errors.New("instance pool is closed")
	ErrBrowserLaunch   = errors.New("browser launch failed")
	ErrProbeFailed     = errors.New("network probe through proxy chain failed")
	ErrTunnelUnhealthy = errors.New("fingerprint tunnel process exited during startup")
)
