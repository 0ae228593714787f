package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/messaging"
	"github.com/jwalitptl/lesson-notifier/pkg/metrics"
)

const sentMessage = "Message sent successfully via LINE"

// Sender delivers one text message to one LINE user.
type Sender interface {
	Send(ctx context.Context, creds model.ChannelCredentials, to, text string) error
}

// ChannelResolver picks the channel credentials for a branch.
type ChannelResolver interface {
	Resolve(ctx context.Context, branchID *string) (model.ChannelCredentials, error)
}

type DeliveryConfig struct {
	BatchSize           int
	MaxConcurrency      int
	MaxExecutionTime    time.Duration
	DelayBetweenBatches time.Duration
	SendTimeout         time.Duration
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		BatchSize:           10,
		MaxConcurrency:      3,
		MaxExecutionTime:    5 * time.Minute,
		DelayBetweenBatches: time.Second,
		SendTimeout:         30 * time.Second,
	}
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	d := DefaultDeliveryConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	if c.DelayBetweenBatches <= 0 {
		c.DelayBetweenBatches = d.DelayBetweenBatches
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

type DeliveryResult struct {
	TotalProcessed int           `json:"totalProcessed"`
	Successful     int           `json:"successful"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Batches        int           `json:"batches"`
	Elapsed        time.Duration `json:"-"`
}

// DeliveryEvent is the payload published for every delivery outcome.
type DeliveryEvent struct {
	NotificationID   uuid.UUID           `json:"notification_id"`
	RecipientType    model.RecipientType `json:"recipient_type"`
	RecipientID      string              `json:"recipient_id"`
	NotificationType string              `json:"notification_type"`
	Attempt          int                 `json:"attempt"`
	Error            string              `json:"error,omitempty"`
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeStorageError
)

// DeliveryWorker drains due notifications from the queue.
type DeliveryWorker struct {
	repo      repository.NotificationRepository
	directory repository.RecipientDirectory
	channels  ChannelResolver
	sender    Sender
	publisher messaging.Publisher
	config    DeliveryConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*DeliveryWorker)

// WithPublisher publishes delivery events. Publish failures are only logged.
func WithPublisher(p messaging.Publisher) Option {
	return func(w *DeliveryWorker) { w.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *DeliveryWorker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *DeliveryWorker) { w.now = now }
}

func NewDeliveryWorker(
	repo repository.NotificationRepository,
	directory repository.RecipientDirectory,
	channels ChannelResolver,
	sender Sender,
	config DeliveryConfig,
	log *logger.Logger,
	opts ...Option,
) *DeliveryWorker {
	if log == nil {
		log = logger.Nop()
	}
	w := &DeliveryWorker{
		repo:      repo,
		directory: directory,
		channels:  channels,
		sender:    sender,
		config:    config.withDefaults(),
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Config returns the effective configuration.
func (w *DeliveryWorker) Config() DeliveryConfig {
	return w.config
}

// Run polls and delivers until no due rows remain, the execution budget is
// spent or ctx is done. The budget is checked between batches only. Run
// returns an error only when polling fails; counts gathered so far are kept.
func (w *DeliveryWorker) Run(ctx context.Context) (DeliveryResult, error) {
	var result DeliveryResult
	start := time.Now()

	w.logger.Info("starting delivery",
		"batch_size", w.config.BatchSize,
		"max_concurrency", w.config.MaxConcurrency,
		"max_execution_time", w.config.MaxExecutionTime.String(),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("delivery stopped", "reason", ctx.Err().Error())
			break
		}
		if time.Since(start) >= w.config.MaxExecutionTime {
			w.logger.Warn("delivery execution budget exhausted", "batches", result.Batches)
			break
		}

		due, err := w.repo.FindDue(ctx, w.now(), model.MaxAttempts, w.config.BatchSize)
		if err != nil {
			w.dbOp("find_due", err)
			result.Elapsed = time.Since(start)
			return result, fmt.Errorf("failed to get due notifications: %w", err)
		}
		w.dbOp("find_due", nil)
		if len(due) == 0 {
			break
		}

		result.Batches++
		outcomes := w.processBatch(ctx, due)

		storageTrouble := false
		for _, o := range outcomes {
			switch o {
			case outcomeSent:
				result.TotalProcessed++
				result.Successful++
			case outcomeFailed:
				result.TotalProcessed++
				result.Failed++
			case outcomeStorageError:
				result.TotalProcessed++
				result.Failed++
				storageTrouble = true
			case outcomeSkipped:
				result.Skipped++
			}
		}

		// A short batch means the queue is drained apart from retryable rows.
		if len(due) < w.config.BatchSize && !storageTrouble {
			continue
		}
		if !sleep(ctx, w.config.DelayBetweenBatches) {
			break
		}
	}

	w.logger.Info("delivery finished",
		"processed", result.TotalProcessed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"batches", result.Batches,
	)
	result.Elapsed = time.Since(start)
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processBatch delivers due in chunks of MaxConcurrency. Tasks never return
// errors so one failure never cancels its siblings.
func (w *DeliveryWorker) processBatch(ctx context.Context, due []*model.Notification) []outcome {
	if w.metrics != nil {
		timer := prometheus.NewTimer(w.metrics.BatchLatency)
		defer timer.ObserveDuration()
	}

	outcomes := make([]outcome, len(due))
	for start := 0; start < len(due); start += w.config.MaxConcurrency {
		end := min(start+w.config.MaxConcurrency, len(due))

		var g errgroup.Group
		g.SetLimit(w.config.MaxConcurrency)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = w.deliver(ctx, due[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

func (w *DeliveryWorker) deliver(ctx context.Context, n *model.Notification) (result outcome) {
	log := w.logger.WithFields(map[string]interface{}{
		"notification_id":   n.ID.String(),
		"recipient_type":    string(n.RecipientType),
		"recipient_id":      n.RecipientID,
		"notification_type": n.NotificationType,
	})

	var (
		attempt int
		claimed bool
	)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic during delivery: %v", p)
			log.Error(err, "delivery panicked")
			if claimed {
				w.fail(ctx, n, attempt, err, log)
			}
			result = outcomeFailed
		}
	}()

	attempt, claimed, err := w.repo.Claim(ctx, n.ID, model.MaxAttempts)
	if err != nil {
		w.dbOp("claim", err)
		log.Error(err, "failed to claim notification")
		return outcomeStorageError
	}
	w.dbOp("claim", nil)
	if !claimed {
		if w.metrics != nil {
			w.metrics.ClaimsLost.Inc()
		}
		log.Debug("notification claimed by another worker")
		return outcomeSkipped
	}
	log = log.WithFields(map[string]interface{}{"attempt": attempt})

	if err := w.send(ctx, n); err != nil {
		w.fail(ctx, n, attempt, err, log)
		return outcomeFailed
	}

	// the message is out; record it even if the run is being cancelled
	storeCtx := context.WithoutCancel(ctx)
	sentAt := w.now()
	entry := model.DeliveryLog{
		Success: true,
		Message: sentMessage,
		Context: w.deliveryContext(n, attempt, sentAt),
	}
	if err := w.repo.MarkSent(storeCtx, n.ID, sentAt, entry); err != nil {
		w.dbOp("mark_sent", err)
		log.Error(err, "notification sent but status update failed")
	} else {
		w.dbOp("mark_sent", nil)
	}
	if w.metrics != nil {
		w.metrics.DeliveriesSucceeded.Inc()
	}
	log.Info("notification sent")
	w.publish(storeCtx, messaging.EventNotificationSent, n, attempt, nil, log)
	return outcomeSent
}

func (w *DeliveryWorker) send(ctx context.Context, n *model.Notification) error {
	identity, err := w.directory.LookupIdentity(ctx, n.RecipientType, n.RecipientID)
	if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	lineID, ok := identity.Deliverable()
	if !ok {
		return errors.IdentityUnavailable(string(n.RecipientType), n.RecipientID)
	}

	creds, err := w.channels.Resolve(ctx, n.BranchID)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	defer cancel()

	if w.metrics != nil {
		timer := prometheus.NewTimer(w.metrics.SendLatency)
		defer timer.ObserveDuration()
	}
	return w.sender.Send(sendCtx, creds, lineID, n.Message)
}

func (w *DeliveryWorker) fail(ctx context.Context, n *model.Notification, attempt int, cause error, log *logger.Logger) {
	storeCtx := context.WithoutCancel(ctx)
	entry := model.DeliveryLog{
		Success: false,
		Message: cause.Error(),
		Context: w.deliveryContext(n, attempt, w.now()),
	}
	if err := w.repo.MarkFailed(storeCtx, n.ID, entry); err != nil {
		w.dbOp("mark_failed", err)
		log.Error(err, "failed to record delivery failure")
	} else {
		w.dbOp("mark_failed", nil)
	}

	if w.metrics != nil {
		w.metrics.DeliveriesFailed.WithLabelValues(failureReason(cause)).Inc()
	}
	log.Error(cause, "notification delivery failed", "branch_id", n.BranchID)
	w.publish(storeCtx, messaging.EventNotificationFailed, n, attempt, cause, log)

	if attempt >= model.MaxAttempts {
		if w.metrics != nil {
			w.metrics.DeadLettered.Inc()
		}
		log.Warn("notification dead-lettered after final attempt")
		w.publish(storeCtx, messaging.EventNotificationDeadLettered, n, attempt, cause, log)
	}
}

func (w *DeliveryWorker) deliveryContext(n *model.Notification, attempt int, at time.Time) *model.DeliveryContext {
	return &model.DeliveryContext{
		RecipientType:    n.RecipientType,
		RecipientID:      n.RecipientID,
		NotificationType: n.NotificationType,
		Attempt:          attempt,
		Timestamp:        at,
	}
}

func (w *DeliveryWorker) publish(ctx context.Context, eventType string, n *model.Notification, attempt int, cause error, log *logger.Logger) {
	if w.publisher == nil {
		return
	}
	event := DeliveryEvent{
		NotificationID:   n.ID,
		RecipientType:    n.RecipientType,
		RecipientID:      n.RecipientID,
		NotificationType: n.NotificationType,
		Attempt:          attempt,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := w.publisher.Publish(ctx, eventType, event); err != nil {
		log.Warn("failed to publish delivery event", "event_type", eventType, "error", err.Error())
	}
}

func (w *DeliveryWorker) dbOp(operation string, err error) {
	if w.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	w.metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func failureReason(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrIdentityUnavailable:
		return "identity_unavailable"
	case errors.ErrTransport:
		return "transport"
	default:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "internal"
	}
}
