package model

import (
	"fmt"
	"time"
)

// RecipientType is the closed set of notification recipients.
type RecipientType string

const (
	RecipientTeacher RecipientType = "TEACHER"
	RecipientStudent RecipientType = "STUDENT"
)

// RecipientTypes lists every recipient type in directory lookup order.
var RecipientTypes = []RecipientType{RecipientTeacher, RecipientStudent}

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientTeacher, RecipientStudent:
		return true
	default:
		return false
	}
}

// Label is the localized name used in message templates.
func (t RecipientType) Label() string {
	switch t {
	case RecipientTeacher:
		return "講師"
	case RecipientStudent:
		return "生徒"
	default:
		return string(t)
	}
}

// ParseRecipientType validates a stored recipient type string.
func ParseRecipientType(s string) (RecipientType, error) {
	t := RecipientType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown recipient type %q", s)
	}
	return t, nil
}

// Recipient is a teacher or student with sessions on a target date. It is
// built per creator run and never persisted.
type Recipient struct {
	Type     RecipientType
	ID       string
	LineID   string
	Name     string
	Sessions []Session
}

// Session is one class on the target date as seen by the directory.
// StartTime and EndTime carry the wall-clock time of day.
type Session struct {
	ClassID     string    `db:"class_id"`
	StartTime   time.Time `db:"start_time"`
	EndTime     time.Time `db:"end_time"`
	SubjectName *string   `db:"subject_name"`
	TeacherName *string   `db:"teacher_name"`
	StudentName *string   `db:"student_name"`
	BoothName   *string   `db:"booth_name"`
	BranchID    *string   `db:"branch_id"`
	BranchName  *string   `db:"branch_name"`
}

// Duration is the length of the session.
func (s Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Identity is the messaging identity of a recipient at send time.
type Identity struct {
	LineID               *string `db:"line_id"`
	NotificationsEnabled bool    `db:"line_notifications_enabled"`
}

// Deliverable returns the LINE id when the recipient is linked and opted in.
func (i *Identity) Deliverable() (string, bool) {
	if i == nil || !i.NotificationsEnabled || i.LineID == nil || *i.LineID == "" {
		return "", false
	}
	return *i.LineID, true
}
