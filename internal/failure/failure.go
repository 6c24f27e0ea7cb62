// Package failure defines the typed failures surfaced by pluginhub.
//
// Every failure is a [errors.PlatformError] from github.com/jmgilman/go/errors and carries
// one of the package sentinels in its chain, so callers can match with either
// errors.Is(err, failure.ErrNotFound) or errors.GetCode(err).
package failure

import (
	stderrors "errors"
	"fmt"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrNotFound marks a referenced entity or artifact that does not exist.
	ErrNotFound = stderrors.New("not found")
	// ErrAlreadyExists marks a create of an entity that is already present.
	ErrAlreadyExists = stderrors.New("already exists")
	// ErrConflict marks an update rejected because the stored version moved on.
	ErrConflict = stderrors.New("version conflict")
	// ErrConvergenceTimeout marks an entity that did not reach the awaited state in time.
	ErrConvergenceTimeout = stderrors.New("state did not converge")
	// ErrStaging marks content that could not be written to disk before use.
	ErrStaging = stderrors.New("staging failed")
	// ErrProducer marks an artifact producer that failed to deliver content.
	ErrProducer = stderrors.New("artifact producer failed")
	// ErrInvalidInput marks a request that cannot be served as given.
	ErrInvalidInput = stderrors.New("invalid input")
	// ErrFetch marks remote content that could not be retrieved.
	ErrFetch = stderrors.New("fetch failed")
)

// NotFound reports that the entity kind/name does not exist.
func NotFound(kind, name string) error {
	err := errors.Wrapf(ErrNotFound, errors.CodeNotFound, "%s %q not found", kind, name)
	return errors.WithContextMap(err, map[string]interface{}{"kind": kind, "name": name})
}

// AlreadyExists reports that the entity kind/name is already present.
func AlreadyExists(kind, name string) error {
	err := errors.Wrapf(ErrAlreadyExists, errors.CodeAlreadyExists, "%s %q already exists", kind, name)
	return errors.WithContextMap(err, map[string]interface{}{"kind": kind, "name": name})
}

// Conflict reports that an update of kind/name was based on a stale version.
func Conflict(kind, name string, version int64) error {
	err := errors.Wrapf(ErrConflict, errors.CodeConflict,
		"%s %q was modified concurrently, version %d is stale", kind, name, version)
	return errors.WithContextMap(err, map[string]interface{}{"kind": kind, "name": name, "version": version})
}

// ConvergenceTimeout reports that id did not satisfy the awaited state within attempts fetches.
func ConvergenceTimeout(id string, attempts int) error {
	err := errors.Wrapf(ErrConvergenceTimeout, errors.CodeTimeout,
		"%s did not reach the expected state after %d attempts", id, attempts)
	return errors.WithContextMap(err, map[string]interface{}{"id": id, "attempts": attempts})
}

// Staging reports that content could not be staged at path.
func Staging(path string, cause error) error {
	err := errors.Wrapf(stderrors.Join(ErrStaging, cause), errors.CodeInternal, "failed to stage content")
	if path == "" {
		return err
	}
	return errors.WithContext(err, "path", path)
}

// Producer reports that the producer of an artifact of kind at version failed.
func Producer(kind, version string, cause error) error {
	err := errors.Wrapf(stderrors.Join(ErrProducer, cause), errors.CodeExecutionFailed,
		"failed to produce %s artifact for version %q", kind, version)
	return errors.WithContextMap(err, map[string]interface{}{"kind": kind, "version": version})
}

// InvalidInput reports a request that is rejected before any work is done.
func InvalidInput(format string, args ...any) error {
	return errors.Wrap(ErrInvalidInput, errors.CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Fetch reports that uri could not be retrieved.
func Fetch(uri string, cause error) error {
	err := errors.Wrapf(stderrors.Join(ErrFetch, cause), errors.CodeNetwork, "failed to fetch %s", uri)
	return errors.WithContext(err, "uri", uri)
}

// IsNotFound reports whether err is, or wraps, a not found failure.
func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is, or wraps, an already exists failure.
func IsAlreadyExists(err error) bool { return stderrors.Is(err, ErrAlreadyExists) }

// IsConflict reports whether err is, or wraps, a version conflict.
func IsConflict(err error) bool { return stderrors.Is(err, ErrConflict) }

// IsConvergenceTimeout reports whether err is, or wraps, a convergence timeout.
func IsConvergenceTimeout(err error) bool { return stderrors.Is(err, ErrConvergenceTimeout) }

// Code returns the platform error code of err, or errors.CodeUnknown.
func Code(err error) errors.ErrorCode { return errors.GetCode(err) }
