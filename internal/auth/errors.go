package auth

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrAccessDenied is returned when the user rejects the authorization request.
	ErrAccessDenied = errors.New("access denied by user")

	// ErrExpiredToken is returned when the device code expires before the user approves it.
	ErrExpiredToken = errors.New("device code expired: run `veda login` again to restart authentication")

	// ErrNotAuthenticated is returned when no credential is stored or the server does not recognise it.
	ErrNotAuthenticated = errors.New("not authenticated: run `veda login` first")

	// ErrSessionExpired is returned when the stored credential expired and could not be refreshed.
	ErrSessionExpired = errors.New("session expired: run `veda login` again")
)

// InitError reports that no device code could be obtained.
// The login attempt has to be abandoned; nothing was polled.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ProtocolError is an authorization server response the client cannot act on.
// Code and Description are the server's error and error_description, verbatim.
type ProtocolError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("authorization server error %s: %s", e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("authorization server error %s", e.Code)
	case e.Description != "":
		return fmt.Sprintf("authorization server error: %s", e.Description)
	default:
		return fmt.Sprintf("unexpected authorization server response (HTTP %d)", e.Status)
	}
}

// NetworkError wraps a failure to reach the authorization server.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
