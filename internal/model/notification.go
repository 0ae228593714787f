package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the delivery retry budget. A notification that reaches it
// stays FAILED and is never polled again.
const MaxAttempts = 3

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "PENDING"
	NotificationStatusProcessing NotificationStatus = "PROCESSING"
	NotificationStatusSent       NotificationStatus = "SENT"
	NotificationStatusFailed     NotificationStatus = "FAILED"
)

// Notification is one queued message for one recipient.
type Notification struct {
	ID                 uuid.UUID          `json:"notification_id" db:"notification_id"`
	RecipientType      RecipientType      `json:"recipient_type" db:"recipient_type" validate:"required,oneof=TEACHER STUDENT"`
	RecipientID        string             `json:"recipient_id" db:"recipient_id" validate:"required"`
	NotificationType   string             `json:"notification_type" db:"notification_type" validate:"required"`
	Message            string             `json:"message" db:"message" validate:"required"`
	Status             NotificationStatus `json:"status" db:"status"`
	ProcessingAttempts int                `json:"processing_attempts" db:"processing_attempts"`
	ScheduledAt        time.Time          `json:"scheduled_at" db:"scheduled_at"`
	TargetDate         *time.Time         `json:"target_date,omitempty" db:"target_date"`
	BranchID           *string            `json:"branch_id,omitempty" db:"branch_id"`
	TemplateID         *string            `json:"template_id,omitempty" db:"template_id"`
	Logs               *DeliveryLog       `json:"logs,omitempty" db:"logs"`
	SentAt             *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// DedupKey returns the uniqueness key of the notification.
func (n *Notification) DedupKey() DedupKey {
	return DedupKey{
		RecipientID:      n.RecipientID,
		RecipientType:    n.RecipientType,
		NotificationType: n.NotificationType,
		TargetDate:       n.TargetDate,
	}
}

// DedupKey identifies at most one notification per recipient, type and target date.
type DedupKey struct {
	RecipientID      string
	RecipientType    RecipientType
	NotificationType string
	TargetDate       *time.Time
}

// Matches reports whether two keys address the same logical notification.
// Target dates compare by calendar day.
func (k DedupKey) Matches(other DedupKey) bool {
	if k.RecipientID != other.RecipientID || k.RecipientType != other.RecipientType ||
		k.NotificationType != other.NotificationType {
		return false
	}
	if k.TargetDate == nil || other.TargetDate == nil {
		return k.TargetDate == nil && other.TargetDate == nil
	}
	return SameDate(*k.TargetDate, *other.TargetDate)
}

// SameDate compares the calendar dates of two DATE values.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DeliveryLog is the structured outcome of the last delivery attempt.
type DeliveryLog struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Context *DeliveryContext `json:"context,omitempty"`
}

type DeliveryContext struct {
	RecipientType    RecipientType `json:"recipientType"`
	RecipientID      string        `json:"recipientId"`
	NotificationType string        `json:"notificationType"`
	Attempt          int           `json:"attempt"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Value implements driver.Valuer so the log is stored as JSONB.
func (l DeliveryLog) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *DeliveryLog) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = DeliveryLog{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported logs column type %T", src)
	}
}

// NotificationTypeFor maps a template day offset to its notification type tag.
func NotificationTypeFor(offsetDays int) string {
	switch offsetDays {
	case 0:
		return "DAILY_SUMMARY_SAMEDAY"
	case 1:
		return "DAILY_SUMMARY_1D"
	default:
		return fmt.Sprintf("DAILY_SUMMARY_%dD", offsetDays)
	}
}
