package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated means no usable credential was found across all strategies.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound means a repository, workflow, installation or record is absent.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError reports missing or malformed credentials. It is fatal to
// the operation that needed the credential, never to the process.
type ConfigurationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// UpstreamError is any non-2xx response from the GitHub API.
type UpstreamError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("github: %s %s returned %d: %s", e.Method, e.URL, e.Status, truncate(e.Body, 300))
}

// Is lets errors.Is(err, ErrNotFound) match a 404 from GitHub.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// DispatchError is returned once every identifier/credential combination of a
// workflow dispatch is exhausted. Err holds the last failure.
type DispatchError struct {
	Owner    string
	Repo     string
	Attempts []string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s/%s failed after %d attempt(s): %v", e.Owner, e.Repo, len(e.Attempts), e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// upstreamStatus returns the upstream HTTP status carried by err, or 0.
func upstreamStatus(err error) int {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Status
	}
	return 0
}

// statusForError maps a component error onto the HTTP status a handler returns.
func statusForError(err error) int {
	var cfgErr *ConfigurationError
	var upErr *UpstreamError
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.As(err, &upErr):
		if upErr.Status >= 400 && upErr.Status <= 599 {
			return upErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
