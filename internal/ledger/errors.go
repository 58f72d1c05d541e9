package ledger

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by strategies that do not implement a query
// shape. Failover skips them without counting a failure.
var ErrUnsupported = errors.New("query not supported by endpoint")

// TransportError is returned after every attempt against an endpoint failed.
type TransportError struct {
	Endpoint string
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Endpoint, e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EndpointIncompatibilityError means the endpoint rejected the query itself
// (for example an unsupported height predicate). Retrying the same query is
// pointless; callers narrow the query instead.
type EndpointIncompatibilityError struct {
	Endpoint   string
	Op         string
	StatusCode int
	Body       string
}

func (e *EndpointIncompatibilityError) Error() string {
	return fmt.Sprintf("%s rejected %s (status %d): %s", e.Endpoint, e.Op, e.StatusCode, e.Body)
}

// IsIncompatible reports whether err is an EndpointIncompatibilityError.
func IsIncompatible(err error) bool {
	var incompat *EndpointIncompatibilityError
	return errors.As(err, &incompat)
}
