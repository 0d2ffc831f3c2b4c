package events

// Type identifies the kind of pipeline event carried in an envelope.
type Type string

const (
	TypeJobAdded          Type = "jobAdded"
	TypeJobUpdated        Type = "jobUpdated"
	TypeJobProgress       Type = "jobProgress"
	TypeJobCompleted      Type = "jobCompleted"
	TypeJobFailed         Type = "jobFailed"
	TypeWorkflowCompleted Type = "workflowCompleted"
	TypeWorkflowFailed    Type = "workflowFailed"
)

// Event is the envelope broadcast to every connected client.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}
