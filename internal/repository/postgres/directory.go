package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

const teacherSessionsQuery = `
	SELECT t.teacher_id AS recipient_id, t.name AS recipient_name, t.line_id,
		cs.class_id, cs.start_time, cs.end_time,
		subj.name AS subject_name, t.name AS teacher_name, st.name AS student_name,
		bo.name AS booth_name, cs.branch_id, br.name AS branch_name
	FROM class_sessions cs
	JOIN teachers t ON t.teacher_id = cs.teacher_id
	LEFT JOIN students st ON st.student_id = cs.student_id
	LEFT JOIN subjects subj ON subj.subject_id = cs.subject_id
	LEFT JOIN booths bo ON bo.booth_id = cs.booth_id
	LEFT JOIN branches br ON br.branch_id = cs.branch_id
	WHERE cs.date = $1::date
	AND cs.student_id IS NOT NULL
	AND t.line_notifications_enabled = TRUE
	AND t.line_id IS NOT NULL
	ORDER BY t.teacher_id, cs.start_time
`

const studentSessionsQuery = `
	SELECT st.student_id AS recipient_id, st.name AS recipient_name, st.line_id,
		cs.class_id, cs.start_time, cs.end_time,
		subj.name AS subject_name, t.name AS teacher_name, st.name AS student_name,
		bo.name AS booth_name, cs.branch_id, br.name AS branch_name
	FROM class_sessions cs
	JOIN students st ON st.student_id = cs.student_id
	LEFT JOIN teachers t ON t.teacher_id = cs.teacher_id
	LEFT JOIN subjects subj ON subj.subject_id = cs.subject_id
	LEFT JOIN booths bo ON bo.booth_id = cs.booth_id
	LEFT JOIN branches br ON br.branch_id = cs.branch_id
	WHERE cs.date = $1::date
	AND cs.teacher_id IS NOT NULL
	AND st.line_notifications_enabled = TRUE
	AND st.line_id IS NOT NULL
	ORDER BY st.student_id, cs.start_time
`

type directoryRow struct {
	RecipientID   string `db:"recipient_id"`
	RecipientName string `db:"recipient_name"`
	LineID        string `db:"line_id"`
	model.Session
}

type directoryRepository struct {
	BaseRepository
}

func NewDirectoryRepository(base BaseRepository) repository.RecipientDirectory {
	return &directoryRepository{base}
}

func (r *directoryRepository) ListRecipients(ctx context.Context, date time.Time, recipientType model.RecipientType) ([]model.Recipient, error) {
	var query string
	switch recipientType {
	case model.RecipientTeacher:
		query = teacherSessionsQuery
	case model.RecipientStudent:
		query = studentSessionsQuery
	default:
		return nil, fmt.Errorf("unknown recipient type %q", recipientType)
	}

	var rows []directoryRow
	if err := r.db.SelectContext(ctx, &rows, query, dateParam(&date)); err != nil {
		return nil, fmt.Errorf("failed to list %s recipients: %w", recipientType, err)
	}

	var recipients []model.Recipient
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.RecipientID]
		if !ok {
			i = len(recipients)
			index[row.RecipientID] = i
			recipients = append(recipients, model.Recipient{
				Type:   recipientType,
				ID:     row.RecipientID,
				LineID: row.LineID,
				Name:   row.RecipientName,
			})
		}
		recipients[i].Sessions = append(recipients[i].Sessions, row.Session)
	}
	return recipients, nil
}

func (r *directoryRepository) LookupIdentity(ctx context.Context, recipientType model.RecipientType, recipientID string) (*model.Identity, error) {
	var query string
	switch recipientType {
	case model.RecipientTeacher:
		query = `SELECT line_id, line_notifications_enabled FROM teachers WHERE teacher_id = $1`
	case model.RecipientStudent:
		query = `SELECT line_id, line_notifications_enabled FROM students WHERE student_id = $1`
	default:
		return nil, fmt.Errorf("unknown recipient type %q", recipientType)
	}

	var identity model.Identity
	err := r.db.GetContext(ctx, &identity, query, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %s: %w", recipientType, recipientID, err)
	}
	return &identity, nil
}
