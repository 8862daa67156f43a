package mockserver

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Server and Manager. Test with errors.Is.
var (
	ErrAlreadyRunning = errors.New("mock server already running")
	ErrNotRunning     = errors.New("mock server not running")
	ErrPortInUse      = errors.New("port in use")
	ErrListener       = errors.New("listener error")
	ErrNotListening   = errors.New("mock server has no active listener")
	ErrInvalidConfig  = errors.New("invalid mock server config")
	ErrBusy           = errors.New("mock server start or stop already in progress")
)

// PortInUseError reports a port that is taken, either by another process or
// by another managed server. It matches ErrPortInUse.
type PortInUseError struct {
	Port int
	Err  error
}

func (e *PortInUseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("port %d is already in use", e.Port)
	}
	return fmt.Sprintf("port %d is already in use: %v", e.Port, e.Err)
}

// Is makes errors.Is(err, ErrPortInUse) true.
func (e *PortInUseError) Is(target error) bool {
	return target == ErrPortInUse
}

func (e *PortInUseError) Unwrap() error {
	return e.Err
}

// classifyListenError maps a bind failure to PortInUseError or ErrListener.
func classifyListenError(port int, err error) error {
	if isAddrInUse(err) {
		return &PortInUseError{Port: port, Err: err}
	}
	return fmt.Errorf("%w: %w", ErrListener, err)
}
