package control

import (
	"errors"
	"net/http"

	"github.com/getmockd/mockhost/pkg/httputil"
	"github.com/getmockd/mockhost/pkg/mockserver"
)

// Error codes returned in the "error" field.
const (
	CodeInvalidConfig  = "invalid_config"
	CodeInvalidBody    = "invalid_body"
	CodeAlreadyRunning = "already_running"
	CodePortInUse      = "port_in_use"
	CodeBusy           = "busy"
	CodeNotRunning     = "not_running"
	CodeListener       = "listener_error"
	CodeEventsDisabled = "events_disabled"
	CodeInternal       = "internal_error"
)

// errorMapping pairs a sentinel error with its HTTP status and code. Order
// matters: the first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{mockserver.ErrInvalidConfig, http.StatusBadRequest, CodeInvalidConfig},
	{mockserver.ErrAlreadyRunning, http.StatusConflict, CodeAlreadyRunning},
	{mockserver.ErrPortInUse, http.StatusConflict, CodePortInUse},
	{mockserver.ErrBusy, http.StatusConflict, CodeBusy},
	{mockserver.ErrNotRunning, http.StatusNotFound, CodeNotRunning},
	{mockserver.ErrListener, http.StatusInternalServerError, CodeListener},
}

// SentinelForCode returns the mockserver error for an error code, or nil.
func SentinelForCode(code string) error {
	for _, m := range errorMapping {
		if m.code == code {
			return m.err
		}
	}
	return nil
}

func writeManagerError(w http.ResponseWriter, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			httputil.WriteError(w, m.status, m.code, err.Error())
			return
		}
	}
	httputil.WriteInternalError(w, CodeInternal, err.Error())
}
