package git

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by remote operations. Check them with errors.Is.

// ErrAuthRequired is returned when the remote requires credentials and none
// could be produced, including when the askpass helper is missing.
var ErrAuthRequired = errors.New("authentication required")

// ErrAuthFailed is returned when credentials were presented but rejected.
var ErrAuthFailed = errors.New("authentication failed")

// ErrRepositoryNotFound is returned when the remote repository does not exist.
var ErrRepositoryNotFound = errors.New("repository not found")

// ErrRevisionNotFound is returned when the pinned commit does not exist in
// the remote repository.
var ErrRevisionNotFound = errors.New("revision not found")

// ErrInvalidRevision is returned when a revision is not a full commit hash
// this package can resolve.
var ErrInvalidRevision = errors.New("invalid revision")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
