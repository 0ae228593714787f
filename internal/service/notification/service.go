package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/pkg/validator"
)

// Service is the only writer of new queue rows.
type Service interface {
	// Enqueue stores n as PENDING. It returns false without error when a
	// notification with the same dedup key already exists.
	Enqueue(ctx context.Context, n *model.Notification) (bool, error)
	// ResetPending deletes the PENDING rows of a template run and returns how many.
	ResetPending(ctx context.Context, templateID, notificationType string, targetDate time.Time) (int64, error)
	// AlreadyCreatedSince reports whether any row of the type and target date
	// was created at or after since.
	AlreadyCreatedSince(ctx context.Context, notificationType string, targetDate, since time.Time) (bool, error)
}

type service struct {
	repo      repository.NotificationRepository
	validator validator.Validator
	now       func() time.Time
}

type Option func(*service)

// WithClock overrides the clock used for created_at and scheduled_at.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(repo repository.NotificationRepository, v validator.Validator, opts ...Option) Service {
	s := &service{
		repo:      repo,
		validator: v,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Enqueue(ctx context.Context, n *model.Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("notification cannot be nil")
	}
	if err := s.validator.Validate(n); err != nil {
		return false, fmt.Errorf("invalid notification: %w", err)
	}

	exists, err := s.repo.Exists(ctx, n.DedupKey())
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	now := s.now()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.ScheduledAt.IsZero() {
		n.ScheduledAt = now
	}
	n.Status = model.NotificationStatusPending
	n.ProcessingAttempts = 0
	n.Logs = nil
	n.SentAt = nil
	n.CreatedAt = now
	n.UpdatedAt = now

	if err := s.repo.Create(ctx, n); err != nil {
		// lost a race with a concurrent creator
		if errors.Is(err, repository.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create notification: %w", err)
	}
	return true, nil
}

func (s *service) ResetPending(ctx context.Context, templateID, notificationType string, targetDate time.Time) (int64, error) {
	deleted, err := s.repo.DeletePending(ctx, templateID, notificationType, targetDate)
	if err != nil {
		return 0, fmt.Errorf("failed to reset pending notifications: %w", err)
	}
	return deleted, nil
}

func (s *service) AlreadyCreatedSince(ctx context.Context, notificationType string, targetDate, since time.Time) (bool, error) {
	count, err := s.repo.CountCreatedSince(ctx, notificationType, targetDate, since)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
