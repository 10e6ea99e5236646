package models

// NotificationIntent is an outbound message produced by a command and delivered later
// by a dispatcher. Producing it never blocks or fails the command.
type NotificationIntent struct {
	Kind      string `json:"kind"`
	UserID    string `json:"user_id"`
	ToAddress string `json:"to_address"`
	ToName    string `json:"to_name"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	TaskID    string `json:"task_id,omitempty"`
}

const (
	NotificationTaskAssigned = "task_assigned"
	NotificationMemberAdded  = "member_added"
)
