// Package memory holds in-process repositories used for local runs and tests.
// They enforce the same dedup and state rules as the postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

type NotificationStore struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]*model.Notification
	order []uuid.UUID
	now   func() time.Time
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		rows: make(map[uuid.UUID]*model.Notification),
		now:  time.Now,
	}
}

var _ repository.NotificationRepository = (*NotificationStore)(nil)

func (s *NotificationStore) Exists(ctx context.Context, key model.DedupKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findKey(key) != nil, nil
}

func (s *NotificationStore) findKey(key model.DedupKey) *model.Notification {
	for _, id := range s.order {
		if n := s.rows[id]; n.DedupKey().Matches(key) {
			return n
		}
	}
	return nil
}

func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findKey(n.DedupKey()) != nil {
		return repository.ErrDuplicate
	}
	if _, ok := s.rows[n.ID]; ok {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	cp := *n
	s.rows[n.ID] = &cp
	s.order = append(s.order, n.ID)
	return nil
}

func (s *NotificationStore) DeletePending(ctx context.Context, templateID, notificationType string, targetDate time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		n := s.rows[id]
		if n.Status == model.NotificationStatusPending &&
			n.TemplateID != nil && *n.TemplateID == templateID &&
			n.NotificationType == notificationType &&
			n.TargetDate != nil && model.SameDate(*n.TargetDate, targetDate) {
			delete(s.rows, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

func (s *NotificationStore) CountCreatedSince(ctx context.Context, notificationType string, targetDate, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.rows {
		if n.NotificationType == notificationType && n.TargetDate != nil &&
			model.SameDate(*n.TargetDate, targetDate) && !n.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if _, ok := s.rows[id]; ok {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Notification
	for _, id := range s.order {
		n := s.rows[id]
		if (n.Status == model.NotificationStatusPending || n.Status == model.NotificationStatusFailed) &&
			n.ProcessingAttempts < maxAttempts && !n.ScheduledAt.After(now) {
			cp := *n
			due = append(due, &cp)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].ProcessingAttempts != due[j].ProcessingAttempts {
			return due[i].ProcessingAttempts < due[j].ProcessingAttempts
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *NotificationStore) Claim(ctx context.Context, id uuid.UUID, maxAttempts int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.ProcessingAttempts >= maxAttempts ||
		(n.Status != model.NotificationStatusPending && n.Status != model.NotificationStatusFailed) {
		return 0, false, nil
	}
	n.Status = model.NotificationStatusProcessing
	n.ProcessingAttempts++
	n.UpdatedAt = s.now()
	return n.ProcessingAttempts, true, nil
}

func (s *NotificationStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, log model.DeliveryLog) error {
	return s.finish(id, func(n *model.Notification) {
		n.Status = model.NotificationStatusSent
		n.SentAt = &sentAt
		n.Logs = &log
	})
}

func (s *NotificationStore) MarkFailed(ctx context.Context, id uuid.UUID, log model.DeliveryLog) error {
	return s.finish(id, func(n *model.Notification) {
		n.Status = model.NotificationStatusFailed
		n.Logs = &log
	})
}

func (s *NotificationStore) finish(id uuid.UUID, apply func(*model.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok || n.Status != model.NotificationStatusProcessing {
		return fmt.Errorf("notification %s is not processing: %w", id, repository.ErrNotFound)
	}
	apply(n)
	n.UpdatedAt = s.now()
	return nil
}

func (s *NotificationStore) CountByStatus(ctx context.Context) (map[model.NotificationStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.NotificationStatus]int)
	for _, n := range s.rows {
		counts[n.Status]++
	}
	return counts, nil
}

// Get returns a copy of the stored notification.
func (s *NotificationStore) Get(id uuid.UUID) (*model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// All returns copies of every stored notification in insertion order.
func (s *NotificationStore) All() []*model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Notification, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.rows[id]
		out = append(out, &cp)
	}
	return out
}

// Put stores n as is, bypassing the dedup check. Intended for seeding.
func (s *NotificationStore) Put(n *model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[n.ID]; !ok {
		s.order = append(s.order, n.ID)
	}
	cp := *n
	s.rows[n.ID] = &cp
}
