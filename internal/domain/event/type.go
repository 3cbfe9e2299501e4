package event

// Type identifies the type of domain event
type Type string

const (
	TypeSessionCreated    Type = "session.created"
	TypeSessionClosed     Type = "session.closed"
	TypeStepChanged       Type = "workflow.step_changed"
	TypeWorkflowPaused    Type = "workflow.paused"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypeClaimSubmitted    Type = "claim.submitted"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionCreated,
		TypeSessionClosed,
		TypeStepChanged,
		TypeWorkflowPaused,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeClaimSubmitted:
		return true
	default:
		return false
	}
}

// AllTypes returns every defined event type
func AllTypes() []Type {
	return []Type{
		TypeSessionCreated,
		TypeSessionClosed,
		TypeStepChanged,
		TypeWorkflowPaused,
		TypeWorkflowCompleted,
		TypeWorkflowFailed,
		TypeClaimSubmitted,
	}
}
