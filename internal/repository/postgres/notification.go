package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

const notificationColumns = `
	notification_id, recipient_type, recipient_id, notification_type, message,
	status, processing_attempts, scheduled_at, target_date, branch_id,
	template_id, logs, sent_at, created_at, updated_at`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

// dateParam renders a DATE parameter as text so the session time zone never
// shifts it to another day.
func dateParam(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func (r *notificationRepository) Exists(ctx context.Context, key model.DedupKey) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1
			AND recipient_type = $2
			AND notification_type = $3
			AND target_date IS NOT DISTINCT FROM $4::date
		)
	`
	var exists bool
	err := r.db.QueryRowxContext(ctx, query,
		key.RecipientID,
		string(key.RecipientType),
		key.NotificationType,
		dateParam(key.TargetDate),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification existence: %w", err)
	}
	return exists, nil
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	query := `
		INSERT INTO notifications (
			notification_id, recipient_type, recipient_id, notification_type, message,
			status, processing_attempts, scheduled_at, target_date, branch_id,
			template_id, logs, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10, $11, $12, $13, $14
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		string(n.RecipientType),
		n.RecipientID,
		n.NotificationType,
		n.Message,
		string(n.Status),
		n.ProcessingAttempts,
		n.ScheduledAt,
		dateParam(n.TargetDate),
		n.BranchID,
		n.TemplateID,
		n.Logs,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) DeletePending(ctx context.Context, templateID, notificationType string, targetDate time.Time) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE template_id = $1
		AND notification_type = $2
		AND target_date = $3::date
		AND status = 'PENDING'
	`
	result, err := r.db.ExecContext(ctx, query, templateID, notificationType, dateParam(&targetDate))
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending notifications: %w", err)
	}

	return result.RowsAffected()
}

func (r *notificationRepository) CountCreatedSince(ctx context.Context, notificationType string, targetDate, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE notification_type = $1
		AND target_date = $2::date
		AND created_at >= $3
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, notificationType, dateParam(&targetDate), since); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE notification_id = ANY($1::uuid[])`
	if err := r.db.GetContext(ctx, &count, query, pq.Array(strIDs)); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status IN ('PENDING', 'FAILED')
		AND processing_attempts < $1
		AND scheduled_at <= $2
		ORDER BY processing_attempts ASC, scheduled_at ASC
		LIMIT $3
	`
	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, maxAttempts, now, limit); err != nil {
		return nil, fmt.Errorf("failed to get due notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) Claim(ctx context.Context, id uuid.UUID, maxAttempts int) (int, bool, error) {
	query := `
		UPDATE notifications
		SET status = 'PROCESSING',
			processing_attempts = processing_attempts + 1,
			updated_at = NOW()
		WHERE notification_id = $1
		AND status IN ('PENDING', 'FAILED')
		AND processing_attempts < $2
		RETURNING processing_attempts
	`
	var attempts int
	err := r.db.QueryRowxContext(ctx, query, id, maxAttempts).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to claim notification: %w", err)
	}
	return attempts, true, nil
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, log model.DeliveryLog) error {
	query := `
		UPDATE notifications
		SET status = 'SENT', sent_at = $2, logs = $3, updated_at = NOW()
		WHERE notification_id = $1
		AND status = 'PROCESSING'
	`
	return r.finish(ctx, "sent", query, id, sentAt, log)
}

func (r *notificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, log model.DeliveryLog) error {
	query := `
		UPDATE notifications
		SET status = 'FAILED', logs = $2, updated_at = NOW()
		WHERE notification_id = $1
		AND status = 'PROCESSING'
	`
	return r.finish(ctx, "failed", query, id, log)
}

func (r *notificationRepository) finish(ctx context.Context, outcome, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s: %w", outcome, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("notification %v is not processing: %w", args[0], repository.ErrNotFound)
	}
	return nil
}

func (r *notificationRepository) CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM notifications GROUP BY status`

	var rows []struct {
		Status model.NotificationStatus `db:"status"`
		Count  int                      `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count notifications by status: %w", err)
	}

	counts := make(map[model.NotificationStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
