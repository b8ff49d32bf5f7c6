package domain

import "errors"

// Resolution failure taxonomy. Per-instrument failures are isolated and
// converted into a negative ResolutionResult; none of these aborts a batch.
var (
	// ErrConnectionUnavailable means the pool could not hand out a healthy
	// broker session within its wait bound.
	ErrConnectionUnavailable = errors.New("no connection available")

	// ErrRequestTimeout means one broker round trip exceeded its per-request
	// timeout. Recovered locally: the pipeline advances to the next step.
	ErrRequestTimeout = errors.New("broker request timed out")

	// ErrNoCandidates means a strategy step produced zero raw results.
	// Not a failure, just an empty step.
	ErrNoCandidates = errors.New("no candidates returned")

	// ErrBrokerFatal means the transport reported a connection-level failure
	// (not a per-request error code). The owning handle is marked unhealthy.
	ErrBrokerFatal = errors.New("broker connection failure")
)
