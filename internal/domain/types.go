package domain

// Status represents the lifecycle state of a schedule entry
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// DefaultResourceCost is applied to tasks whose document omits resources
const DefaultResourceCost = 1.0
