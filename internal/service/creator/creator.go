// Package creator turns active scheduling templates into per-recipient
// notification rows.
package creator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/render"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/internal/schedule"
	"github.com/jwalitptl/lesson-notifier/internal/service/notification"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/metrics"
	"github.com/jwalitptl/lesson-notifier/pkg/validator"
)

type Config struct {
	// Location is the school's time zone. Nil means Asia/Tokyo.
	Location *time.Location
	// DailyGuard skips a template when rows of its type and target date were
	// already created today. Reset runs ignore it.
	DailyGuard bool
}

func DefaultConfig() Config {
	loc, _ := schedule.LoadLocation("")
	return Config{Location: loc, DailyGuard: true}
}

type Options struct {
	Reset      bool
	TemplateID string
}

type Result struct {
	TemplatesProcessed int         `json:"templatesProcessed"`
	Created            int         `json:"created"`
	Duplicates         int         `json:"duplicates"`
	Deleted            int64       `json:"deleted"`
	CreatedIDs         []uuid.UUID `json:"-"`
	Errors             []string    `json:"errors"`
}

func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

type Creator struct {
	cfg       Config
	templates repository.TemplateRepository
	directory repository.RecipientDirectory
	notifSvc  notification.Service
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Creator)

func WithClock(now func() time.Time) Option {
	return func(c *Creator) { c.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Creator) { c.metrics = m }
}

func New(cfg Config, templates repository.TemplateRepository, directory repository.RecipientDirectory,
	notifSvc notification.Service, v validator.Validator, log *logger.Logger, opts ...Option) *Creator {
	if cfg.Location == nil {
		cfg.Location = DefaultConfig().Location
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Creator{
		cfg:       cfg,
		templates: templates,
		directory: directory,
		notifSvc:  notifSvc,
		validator: v,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes every active global before_class template, or only
// opts.TemplateID when set. Per-template and per-recipient failures are
// collected in the result. The error is non-nil only when the template
// registry cannot be read.
func (c *Creator) Run(ctx context.Context, opts Options) (Result, error) {
	var result Result
	now := c.now().In(c.cfg.Location)

	templates, err := c.templates.ListActive(ctx, model.TemplateFilter{
		TemplateType: model.TemplateTypeBeforeClass,
		TemplateID:   opts.TemplateID,
		GlobalOnly:   true,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list templates: %w", err)
	}

	c.logger.Info("creating notifications",
		"templates", len(templates),
		"reset", opts.Reset,
		"local_time", now.Format("2006-01-02 15:04"),
	)

	for _, tmpl := range templates {
		if ctx.Err() != nil {
			result.addError("creation interrupted: %v", ctx.Err())
			break
		}
		if c.processTemplate(ctx, tmpl, now, opts.Reset, &result) {
			result.TemplatesProcessed++
		}
	}

	c.logger.Info("notification creation finished",
		"processed", result.TemplatesProcessed,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"deleted", result.Deleted,
		"errors", len(result.Errors),
	)
	return result, nil
}

// processTemplate reports whether the template was in window and processed.
func (c *Creator) processTemplate(ctx context.Context, tmpl *model.Template, now time.Time, reset bool, result *Result) bool {
	log := c.logger.WithFields(map[string]interface{}{"template_id": tmpl.ID})

	if err := c.validator.Validate(tmpl); err != nil {
		result.addError("template %s: %v", tmpl.ID, err)
		c.countError("validation")
		log.Error(err, "invalid template")
		return false
	}

	if !schedule.InWindow(now, tmpl.TimingHour, tmpl.TimingMinute, reset) {
		log.Debug("template outside send window",
			"minutes_late", schedule.MinutesLate(now, tmpl.TimingHour, tmpl.TimingMinute))
		return false
	}

	targetDate := schedule.TargetDate(now, tmpl.TimingValue)
	notificationType := tmpl.NotificationType()
	log = log.WithFields(map[string]interface{}{
		"notification_type": notificationType,
		"target_date":       targetDate.Format("2006-01-02"),
	})

	if reset {
		deleted, err := c.notifSvc.ResetPending(ctx, tmpl.ID, notificationType, targetDate)
		if err != nil {
			result.addError("template %s: %v", tmpl.ID, err)
			c.countError("reset")
			log.Error(err, "failed to reset pending notifications")
			return true
		}
		result.Deleted += deleted
		if c.metrics != nil {
			c.metrics.NotificationsDeleted.Add(float64(deleted))
		}
		log.Info("reset pending notifications", "deleted", deleted)
	} else if c.cfg.DailyGuard {
		done, err := c.notifSvc.AlreadyCreatedSince(ctx, notificationType, targetDate, schedule.StartOfDay(now))
		if err != nil {
			result.addError("template %s: %v", tmpl.ID, err)
			c.countError("guard")
			log.Error(err, "failed to check today's notifications")
			return true
		}
		if done {
			log.Debug("notifications already created today")
			return true
		}
	}

	for _, rt := range model.RecipientTypes {
		recipients, err := c.directory.ListRecipients(ctx, targetDate, rt)
		if err != nil {
			result.addError("template %s: failed to load %s recipients: %v", tmpl.ID, rt, err)
			c.countError("directory")
			log.Error(err, "failed to load recipients", "recipient_type", rt)
			continue
		}
		for _, r := range recipients {
			c.enqueue(ctx, tmpl, r, targetDate, now, result, log)
		}
	}
	return true
}

func (c *Creator) enqueue(ctx context.Context, tmpl *model.Template, r model.Recipient, targetDate, now time.Time, result *Result, log *logger.Logger) {
	msg := render.Render(render.Input{
		Template:   tmpl,
		Recipient:  r,
		TargetDate: targetDate,
		Now:        now,
	})
	if msg.BranchID == nil {
		log.Warn("no branch resolved for recipient",
			"recipient_type", r.Type,
			"recipient_id", r.ID,
		)
	}

	templateID := tmpl.ID
	date := targetDate
	n := &model.Notification{
		RecipientType:    r.Type,
		RecipientID:      r.ID,
		NotificationType: tmpl.NotificationType(),
		Message:          msg.Text,
		ScheduledAt:      now,
		TargetDate:       &date,
		BranchID:         msg.BranchID,
		TemplateID:       &templateID,
	}

	created, err := c.notifSvc.Enqueue(ctx, n)
	switch {
	case err != nil:
		result.addError("%s %s: %v", r.Type, r.ID, err)
		c.countError("enqueue")
		log.Error(err, "failed to create notification",
			"recipient_type", r.Type,
			"recipient_id", r.ID,
		)
	case created:
		result.Created++
		result.CreatedIDs = append(result.CreatedIDs, n.ID)
		if c.metrics != nil {
			c.metrics.NotificationsCreated.Inc()
		}
	default:
		result.Duplicates++
		if c.metrics != nil {
			c.metrics.NotificationsDuplicate.Inc()
		}
		log.Debug("notification already exists",
			"recipient_type", r.Type,
			"recipient_id", r.ID,
		)
	}
}

func (c *Creator) countError(kind string) {
	if c.metrics != nil {
		c.metrics.TemplateErrors.WithLabelValues(kind).Inc()
	}
}
