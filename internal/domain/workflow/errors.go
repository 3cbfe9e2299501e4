package workflow

import "errors"

var (
	// ErrMissingInput is returned when user-supplied data is required to continue
	ErrMissingInput = errors.New("missing required input")

	// ErrLowConfidence marks output that must be reviewed by a human
	ErrLowConfidence = errors.New("confidence below review threshold")

	// ErrOracleFailure is returned when the decision oracle fails or times out
	ErrOracleFailure = errors.New("decision oracle failure")

	// ErrGatewayFailure is returned when the payer gateway rejects or fails a call
	ErrGatewayFailure = errors.New("payer gateway failure")

	// ErrUnknownStep is returned when a record carries a step with no handler
	ErrUnknownStep = errors.New("unknown workflow step")

	// ErrPrerequisiteMissing is returned when an earlier stage's output is absent
	ErrPrerequisiteMissing = errors.New("stage prerequisite missing")
)

var (
	// ErrSessionNotFound is returned when no record exists for a session id
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when a turn is sent to an archived session
	ErrSessionClosed = errors.New("session closed")
)
