package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/internal/repository/memory"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/validator"
)

// racingRepo reports no existing row but rejects the insert, like a
// concurrent creator winning the unique index.
type racingRepo struct {
	repository.NotificationRepository
	mock.Mock
}

func (r *racingRepo) Exists(ctx context.Context, key model.DedupKey) (bool, error) {
	args := r.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (r *racingRepo) Create(ctx context.Context, n *model.Notification) error {
	return r.Called(ctx, n).Error(0)
}

func newNotification() *model.Notification {
	target := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	return &model.Notification{
		RecipientType:    model.RecipientTeacher,
		RecipientID:      "T1",
		NotificationType: "DAILY_SUMMARY_1D",
		Message:          "明日の授業",
		TargetDate:       &target,
	}
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	store := memory.NewNotificationStore()
	svc := NewService(store, validator.New(), WithClock(func() time.Time { return now }))

	n := newNotification()
	created, err := svc.Enqueue(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, n.ID)

	stored, ok := store.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, model.NotificationStatusPending, stored.Status)
	assert.Zero(t, stored.ProcessingAttempts)
	assert.Equal(t, now, stored.ScheduledAt)

	created, err = svc.Enqueue(ctx, newNotification())
	require.NoError(t, err)
	assert.False(t, created, "second enqueue with the same key is a no-op")
	assert.Len(t, store.All(), 1)
}

func TestService_EnqueueValidation(t *testing.T) {
	svc := NewService(memory.NewNotificationStore(), validator.New())

	n := newNotification()
	n.Message = ""
	_, err := svc.Enqueue(context.Background(), n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	n = newNotification()
	n.RecipientType = "PARENT"
	_, err = svc.Enqueue(context.Background(), n)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestService_EnqueueRace(t *testing.T) {
	repo := &racingRepo{}
	repo.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicate)

	created, err := NewService(repo, validator.New()).Enqueue(context.Background(), newNotification())
	require.NoError(t, err)
	assert.False(t, created)
	repo.AssertExpectations(t)
}

func TestService_ResetPendingAndGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	store := memory.NewNotificationStore()
	svc := NewService(store, validator.New(), WithClock(func() time.Time { return now }))

	tpl := "tpl-1"
	n := newNotification()
	n.TemplateID = &tpl
	_, err := svc.Enqueue(ctx, n)
	require.NoError(t, err)

	created, err := svc.AlreadyCreatedSince(ctx, "DAILY_SUMMARY_1D", *n.TargetDate, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.AlreadyCreatedSince(ctx, "DAILY_SUMMARY_SAMEDAY", *n.TargetDate, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	deleted, err := svc.ResetPending(ctx, tpl, "DAILY_SUMMARY_1D", *n.TargetDate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, store.All())
}
