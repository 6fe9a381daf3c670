package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by durable stores when a status code has no entry.
var ErrNotFound = errors.New("cat not found")

// FetchFailure reports that the upstream image source answered a status code
// request with a non-success transport status.
type FetchFailure struct {
	// Status is the status code the user asked a cat for.
	Status StatusCode
	// UpstreamStatus is the HTTP status returned by the image source.
	UpstreamStatus int
	// Original error for debugging (not shown to users)
	Err error
}

// Error implements the error interface. The text is what users see in chat.
func (e *FetchFailure) Error() string {
	return fmt.Sprintf("Failed to get 🐈️ for HTTP %d: HTTP %d", e.Status, e.UpstreamStatus)
}

// Unwrap implements the error unwrapping interface
func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the failure onto the admin API response status.
func (e *FetchFailure) HTTPStatusCode() int {
	if e.UpstreamStatus == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// NewFetchFailure creates a FetchFailure for the given status and upstream status.
func NewFetchFailure(status StatusCode, upstreamStatus int, err error) *FetchFailure {
	return &FetchFailure{
		Status:         status,
		UpstreamStatus: upstreamStatus,
		Err:            err,
	}
}

// AsFetchFailure returns the FetchFailure in err's chain, if any.
func AsFetchFailure(err error) (*FetchFailure, bool) {
	var ff *FetchFailure
	if errors.As(err, &ff) {
		return ff, true
	}
	return nil, false
}

// IsFetchFailure reports whether err's chain contains a FetchFailure.
func IsFetchFailure(err error) bool {
	_, ok := AsFetchFailure(err)
	return ok
}

// UserMessage renders err as the single reply string sent to chat.
// Fetch failures keep their own wording; anything else is prefixed with the
// status code so users know which request failed.
func UserMessage(status StatusCode, err error) string {
	if err == nil {
		return ""
	}
	if ff, ok := AsFetchFailure(err); ok {
		return ff.Error()
	}
	return fmt.Sprintf("Failed to get 🐈️ for HTTP %d: %v", status, err)
}
