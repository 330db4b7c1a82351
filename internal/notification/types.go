package notification

import (
	"time"
)

// NotificationPriority represents notification priority
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// NotificationStatus represents notification delivery status
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// Notification is a page to one member of staff
type Notification struct {
	ID       string               `json:"id"`
	Priority NotificationPriority `json:"priority"`
	Status   NotificationStatus   `json:"status"`

	// Recipient is a roster id such as N004 or D001
	RecipientID   string `json:"recipient_id"`
	RecipientKind string `json:"recipient_kind"`

	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`

	DecisionID    string `json:"decision_id"`
	PatientID     string `json:"patient_id"`
	EventID       string `json:"event_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	SentAt *time.Time `json:"sent_at,omitempty"`

	// Retry info
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationStats represents notification statistics
type NotificationStats struct {
	TotalSent      int64                          `json:"total_sent"`
	TotalDelivered int64                          `json:"total_delivered"`
	TotalFailed    int64                          `json:"total_failed"`
	ByPriority     map[NotificationPriority]int64 `json:"by_priority"`
	ByStatus       map[NotificationStatus]int64   `json:"by_status"`
	DeliveryRate   float64                        `json:"delivery_rate"`
}
