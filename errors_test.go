package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not authenticated", fmt.Errorf("wrap: %w", ErrNotAuthenticated), http.StatusUnauthorized},
		{"configuration", &ConfigurationError{Op: "x", Msg: "missing"}, http.StatusInternalServerError},
		{"upstream 403", &UpstreamError{Status: 403}, http.StatusForbidden},
		{"upstream 304", &UpstreamError{Status: 304}, http.StatusBadGateway},
		{"not found", fmt.Errorf("store: %w", ErrNotFound), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("%s: statusForError = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestUpstreamErrorMatchesNotFound(t *testing.T) {
	err := fmt.Errorf("outer: %w", &UpstreamError{Method: "GET", URL: "u", Status: 404})
	if !errors.Is(err, ErrNotFound) {
		t.Error("404 should match ErrNotFound")
	}
	if errors.Is(&UpstreamError{Status: 500}, ErrNotFound) {
		t.Error("500 should not match ErrNotFound")
	}
	if upstreamStatus(err) != 404 || upstreamStatus(errors.New("x")) != 0 {
		t.Error("upstreamStatus mismatch")
	}
}

func TestUpstreamErrorTruncatesBody(t *testing.T) {
	err := &UpstreamError{Method: "GET", URL: "u", Status: 500, Body: strings.Repeat("x", 1000)}
	if len(err.Error()) > 400 {
		t.Errorf("error message not truncated: %d bytes", len(err.Error()))
	}
}
