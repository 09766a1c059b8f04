package models

import "time"

// Notification priority levels.
const (
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Notification type tags.
const (
	NotifyNewMessage         = "NEW_MESSAGE"
	NotifyResponseReceived   = "RESPONSE_RECEIVED"
	NotifyApprovalNeeded     = "APPROVAL_NEEDED"
	NotifyRequestApproved    = "REQUEST_APPROVED"
	NotifyRequestRejected    = "REQUEST_REJECTED"
	NotifyChangesRequested   = "CHANGES_REQUESTED"
	NotifyDeadlineApproach   = "DEADLINE_APPROACHING"
	NotifyRequestOverdue     = "REQUEST_OVERDUE"
	NotifyRequestSubmitted   = "REQUEST_SUBMITTED"
	NotifyProviderAckowledge = "PROVIDER_ACKNOWLEDGED"
)

// Notification is an in-app notification for one user, delivered live over
// the socket when the user is connected and backfilled via REST otherwise.
type Notification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RequestID   *string    `json:"request_id,omitempty"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Body        string     `json:"message"`
	Icon        string     `json:"icon,omitempty"`
	Link        string     `json:"link,omitempty"`
	Priority    string     `json:"priority"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Elevated reports whether the notification should surface a transient toast
// in addition to the regular in-app callbacks.
func (n *Notification) Elevated() bool {
	return n.Priority == PriorityHigh || n.Priority == PriorityUrgent
}
