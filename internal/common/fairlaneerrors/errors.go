// Package fairlaneerrors contains the error types returned by the scheduler
// core. HTTP handlers look for these types with errors.As and set the response
// status accordingly; see CodeFromError.
//
// All of these represent local, recoverable conditions. Nothing here is fatal
// to the scheduler process itself.
package fairlaneerrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrRateLimited is returned when an enqueue is rejected by the tenant's
// token bucket. The caller should back off and retry later.
type ErrRateLimited struct {
	TenantId string
}

func (err *ErrRateLimited) Error() string {
	return fmt.Sprintf("tenant %q exceeded its enqueue rate limit", err.TenantId)
}

// ErrBudgetExceeded is returned when the estimated cost of a job would exceed
// the tenant's remaining budget in at least one resource dimension.
type ErrBudgetExceeded struct {
	TenantId  string
	Dimension string  // First dimension that failed the check
	Required  float64 // Estimated units in that dimension
	Remaining float64 // Units the tenant has left
}

func (err *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf(
		"tenant %q has insufficient budget for dimension %q: requires %g, %g remaining",
		err.TenantId, err.Dimension, err.Required, err.Remaining)
}

// ErrDuplicateJob is returned when a job with the given id already exists.
// This is a caller bug and is not retried automatically.
type ErrDuplicateJob struct {
	JobId string
}

func (err *ErrDuplicateJob) Error() string {
	return fmt.Sprintf("job %q already exists", err.JobId)
}

// ErrLeaseMismatch is returned on heartbeat/complete from a worker that does
// not currently hold the job's lease, e.g. because the lease expired and the
// job was reclaimed. The caller must discard its in-flight work.
type ErrLeaseMismatch struct {
	JobId    string
	WorkerId string
}

func (err *ErrLeaseMismatch) Error() string {
	return fmt.Sprintf("worker %q does not hold the lease on job %q", err.WorkerId, err.JobId)
}

// ErrNotFound is returned on operations against a resource that does not
// exist. Type and Value identify the resource, e.g. {"job", "01h..."}.
type ErrNotFound struct {
	Type  string
	Value string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
}

// ErrInvalidWeight indicates a misconfigured tenant fairness weight (<= 0).
// Enqueue rejects rather than silently defaulting, since a zero weight would
// divide by zero in the fairness tag computation.
type ErrInvalidWeight struct {
	TenantId string
	Tier     string
	Weight   float64
}

func (err *ErrInvalidWeight) Error() string {
	return fmt.Sprintf(
		"tenant %q (tier %q) has invalid fairness weight %g; weights must be positive",
		err.TenantId, err.Tier, err.Weight)
}

// CodeFromError maps error types to HTTP status codes. Uses errors.As to look
// through the chain of errors, as opposed to just the topmost error.
func CodeFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var errRateLimited *ErrRateLimited
	var errBudgetExceeded *ErrBudgetExceeded
	var errDuplicateJob *ErrDuplicateJob
	var errLeaseMismatch *ErrLeaseMismatch
	var errNotFound *ErrNotFound
	var errInvalidWeight *ErrInvalidWeight

	switch {
	case errors.As(err, &errRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &errBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.As(err, &errDuplicateJob):
		return http.StatusConflict
	case errors.As(err, &errLeaseMismatch):
		return http.StatusConflict
	case errors.As(err, &errNotFound):
		return http.StatusNotFound
	case errors.As(err, &errInvalidWeight):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ShortCodeFromError returns the symbolic error kind included in API error
// bodies, or the empty string for untyped errors.
func ShortCodeFromError(err error) string {
	var errRateLimited *ErrRateLimited
	var errBudgetExceeded *ErrBudgetExceeded
	var errDuplicateJob *ErrDuplicateJob
	var errLeaseMismatch *ErrLeaseMismatch
	var errNotFound *ErrNotFound
	var errInvalidWeight *ErrInvalidWeight

	switch {
	case errors.As(err, &errRateLimited):
		return "RateLimited"
	case errors.As(err, &errBudgetExceeded):
		return "BudgetExceeded"
	case errors.As(err, &errDuplicateJob):
		return "DuplicateJobError"
	case errors.As(err, &errLeaseMismatch):
		return "LeaseMismatch"
	case errors.As(err, &errNotFound):
		return "NotFound"
	case errors.As(err, &errInvalidWeight):
		return "InvalidWeight"
	default:
		return ""
	}
}
