package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/lesson-notifier/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates the notification dedup key.
	ErrDuplicate = errors.New("duplicate notification")
)

// All repository interfaces in one file
type (
	// NotificationRepository is the notification queue.
	NotificationRepository interface {
		// Exists reports whether a notification with the key is already stored.
		Exists(ctx context.Context, key model.DedupKey) (bool, error)
		// Create inserts n. It returns ErrDuplicate on a dedup key violation.
		Create(ctx context.Context, n *model.Notification) error
		// DeletePending removes PENDING rows of a template, type and target date.
		DeletePending(ctx context.Context, templateID, notificationType string, targetDate time.Time) (int64, error)
		// CountCreatedSince counts rows of the type and target date created at or after since.
		CountCreatedSince(ctx context.Context, notificationType string, targetDate, since time.Time) (int, error)
		// CountExisting counts how many of ids are visible.
		CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
		// FindDue returns up to limit PENDING or FAILED rows under maxAttempts
		// scheduled at or before now, fresh rows first.
		FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.Notification, error)
		// Claim moves a PENDING or FAILED row under maxAttempts to PROCESSING and
		// increments its attempts. claimed is false if another worker got there first.
		Claim(ctx context.Context, id uuid.UUID, maxAttempts int) (attempts int, claimed bool, err error)
		MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, log model.DeliveryLog) error
		MarkFailed(ctx context.Context, id uuid.UUID, log model.DeliveryLog) error
		CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error)
	}

	// TemplateRepository is the template registry.
	TemplateRepository interface {
		ListActive(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error)
	}

	// RecipientDirectory reads teachers and students from the scheduling system.
	RecipientDirectory interface {
		// ListRecipients returns opted-in recipients with a linked identity and at
		// least one fully assigned session on date, sessions ordered by start time.
		ListRecipients(ctx context.Context, date time.Time, recipientType model.RecipientType) ([]model.Recipient, error)
		// LookupIdentity returns the current identity. ErrNotFound when the
		// recipient no longer exists.
		LookupIdentity(ctx context.Context, recipientType model.RecipientType, recipientID string) (*model.Identity, error)
	}

	// ChannelRepository reads LINE channel registrations.
	ChannelRepository interface {
		FindByBranch(ctx context.Context, branchID string) (*model.Channel, error)
		FindDefault(ctx context.Context) (*model.Channel, error)
	}
)
