package creator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository/memory"
	"github.com/jwalitptl/lesson-notifier/internal/service/notification"
	"github.com/jwalitptl/lesson-notifier/pkg/metrics"
	"github.com/jwalitptl/lesson-notifier/pkg/validator"
)

var tokyo = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
	return loc
}()

func strPtr(s string) *string { return &s }

type fixture struct {
	store     *memory.NotificationStore
	templates *memory.TemplateStore
	directory *memory.Directory
	metrics   *metrics.Metrics
	now       time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewNotificationStore(),
		templates: memory.NewTemplateStore(),
		directory: memory.NewDirectory(),
		metrics:   metrics.NewMetrics("test", "creator", prometheus.NewRegistry()),
		now:       now,
	}
	f.directory.AddTeacher(memory.Person{ID: "T1", Name: "田中", LineID: strPtr("U-t1"), NotificationsEnabled: true})
	f.directory.AddStudent(memory.Person{ID: "S1", Name: "佐藤", LineID: strPtr("U-s1"), NotificationsEnabled: true})
	f.directory.AddStudent(memory.Person{ID: "S2", Name: "伊藤", NotificationsEnabled: true})
	return f
}

func (f *fixture) addSession(classID string, day time.Time, from, to int, subject, studentID string) {
	f.directory.AddSession(memory.ClassSession{
		ClassID:     classID,
		Date:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:   time.Date(0, 1, 1, from, 0, 0, 0, time.UTC),
		EndTime:     time.Date(0, 1, 1, to, 0, 0, 0, time.UTC),
		TeacherID:   "T1",
		StudentID:   studentID,
		SubjectName: strPtr(subject),
		BranchID:    strPtr("B1"),
		BranchName:  strPtr("渋谷校"),
	})
}

func (f *fixture) creator(cfg Config) *Creator {
	clock := func() time.Time { return f.now }
	v := validator.New()
	svc := notification.NewService(f.store, v, notification.WithClock(clock))
	return New(cfg, f.templates, f.directory, svc, v, nil, WithClock(clock), WithMetrics(f.metrics))
}

func sameDayTemplate() *model.Template {
	return &model.Template{
		ID:           "tpl-same",
		Name:         "当日リマインド",
		TemplateType: model.TemplateTypeBeforeClass,
		Content:      "{{recipientType}} {{recipientName}}さん\n{{dailyClassList}}",
		TimingType:   "days",
		TimingValue:  0,
		TimingHour:   8,
		TimingMinute: 0,
		IsActive:     true,
	}
}

func TestCreator_InWindow(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 5, 0, 0, tokyo)
	f := newFixture(t, now)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 9, 10, "数学", "S1")

	result, err := f.creator(DefaultConfig()).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.TemplatesProcessed)
	assert.Equal(t, 2, result.Created)
	assert.Len(t, result.CreatedIDs, 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.NotificationsCreated))

	rows := f.store.All()
	require.Len(t, rows, 2)
	for _, n := range rows {
		assert.Equal(t, "DAILY_SUMMARY_SAMEDAY", n.NotificationType)
		assert.Equal(t, "2025-01-15", n.TargetDate.Format("2006-01-02"))
		assert.Equal(t, model.NotificationStatusPending, n.Status)
		require.NotNil(t, n.BranchID)
		assert.Equal(t, "B1", *n.BranchID)
		assert.Equal(t, "tpl-same", *n.TemplateID)
	}
	assert.Equal(t, model.RecipientTeacher, rows[0].RecipientType)
	assert.Contains(t, rows[0].Message, "講師 田中さん")
	assert.NotContains(t, rows[0].Message, "講師: 田中")
}

func TestCreator_OutOfWindow(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 20, 0, 0, tokyo)
	f := newFixture(t, now)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 9, 10, "数学", "S1")

	result, err := f.creator(DefaultConfig()).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, result.TemplatesProcessed)
	assert.Zero(t, result.Created)
	assert.Empty(t, f.store.All())
}

func TestCreator_ClassListSummary(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 5, 0, 0, tokyo)
	f := newFixture(t, now)
	tmpl := sameDayTemplate()
	tmpl.Content = "{{classCount}}|{{firstClassTime}}|{{lastClassTime}}|{{totalDuration}}\n{{dailyClassList}}"
	f.templates.Add(tmpl)
	f.addSession("C2", now, 11, 12, "英語", "S1")
	f.addSession("C1", now, 9, 10, "数学", "S1")

	_, err := f.creator(DefaultConfig()).Run(context.Background(), Options{})
	require.NoError(t, err)

	var student *model.Notification
	for _, n := range f.store.All() {
		if n.RecipientType == model.RecipientStudent {
			student = n
		}
	}
	require.NotNil(t, student)
	assert.Contains(t, student.Message, "2|09:00|12:00|2時間")
	assert.Contains(t, student.Message, "【1】数学")
	assert.Contains(t, student.Message, "【2】英語")
	assert.Contains(t, student.Message, "合計 2コマ (09:00〜12:00)")
}

func TestCreator_Idempotent(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 5, 0, 0, tokyo)
	f := newFixture(t, now)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 9, 10, "数学", "S1")

	// the guard would short-circuit the second run before dedup is reached
	c := f.creator(Config{Location: tokyo, DailyGuard: false})
	first, err := c.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	f.now = now.Add(5 * time.Minute)
	second, err := c.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Duplicates)
	assert.Len(t, f.store.All(), 2)
}

func TestCreator_DailyGuard(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 5, 0, 0, tokyo)
	f := newFixture(t, now)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 9, 10, "数学", "S1")

	c := f.creator(DefaultConfig())
	_, err := c.Run(context.Background(), Options{})
	require.NoError(t, err)

	second, err := c.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.TemplatesProcessed)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Duplicates, "guard skips before touching recipients")
}

func TestCreator_ResetKeepsSentRows(t *testing.T) {
	now := time.Date(2025, 1, 15, 14, 0, 0, 0, tokyo)
	f := newFixture(t, now)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 16, 17, "数学", "S1")

	target := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	sameTpl, prevTpl := "tpl-same", "tpl-prev"
	stale := &model.Notification{
		ID: uuid.New(), RecipientType: model.RecipientTeacher, RecipientID: "T1",
		NotificationType: "DAILY_SUMMARY_SAMEDAY", Message: "old", Status: model.NotificationStatusPending,
		TargetDate: &target, TemplateID: &sameTpl, ScheduledAt: now, CreatedAt: now,
	}
	sentAt := now.Add(-24 * time.Hour)
	sent := &model.Notification{
		ID: uuid.New(), RecipientType: model.RecipientTeacher, RecipientID: "T1",
		NotificationType: "DAILY_SUMMARY_1D", Message: "yesterday", Status: model.NotificationStatusSent,
		ProcessingAttempts: 1, TargetDate: &target, TemplateID: &prevTpl,
		ScheduledAt: sentAt, SentAt: &sentAt, CreatedAt: sentAt,
	}
	f.store.Put(stale)
	f.store.Put(sent)

	result, err := f.creator(DefaultConfig()).Run(context.Background(), Options{Reset: true, TemplateID: "tpl-same"})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, int64(1), result.Deleted)
	assert.Equal(t, 2, result.Created)

	_, ok := f.store.Get(stale.ID)
	assert.False(t, ok, "pending row is deleted")
	kept, ok := f.store.Get(sent.ID)
	require.True(t, ok)
	assert.Equal(t, model.NotificationStatusSent, kept.Status)
	assert.Equal(t, "yesterday", kept.Message)
	assert.Len(t, f.store.All(), 3)
}

func TestCreator_InvalidTemplateIsIsolated(t *testing.T) {
	now := time.Date(2025, 1, 15, 8, 5, 0, 0, tokyo)
	f := newFixture(t, now)
	broken := sameDayTemplate()
	broken.ID = "tpl-broken"
	broken.Content = ""
	f.templates.Add(broken)
	f.templates.Add(sameDayTemplate())
	f.addSession("C1", now, 9, 10, "数学", "S1")

	result, err := f.creator(DefaultConfig()).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "tpl-broken")
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TemplateErrors.WithLabelValues("validation")))
}

func TestCreator_NextDayTemplate(t *testing.T) {
	now := time.Date(2025, 1, 15, 20, 10, 0, 0, tokyo)
	f := newFixture(t, now)
	tmpl := sameDayTemplate()
	tmpl.ID = "tpl-next"
	tmpl.TimingValue = 1
	tmpl.TimingHour = 20
	f.templates.Add(tmpl)
	f.addSession("C1", now.AddDate(0, 0, 1), 9, 10, "数学", "S1")
	f.addSession("C0", now, 9, 10, "国語", "S1")

	result, err := f.creator(DefaultConfig()).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	for _, n := range f.store.All() {
		assert.Equal(t, "DAILY_SUMMARY_1D", n.NotificationType)
		assert.Equal(t, "2025-01-16", n.TargetDate.Format("2006-01-02"))
		assert.Contains(t, n.Message, "数学")
		assert.NotContains(t, n.Message, "国語")
	}
}

type failingTemplates struct{}

func (failingTemplates) ListActive(context.Context, model.TemplateFilter) ([]*model.Template, error) {
	return nil, errors.New("connection refused")
}

func TestCreator_RegistryUnavailable(t *testing.T) {
	f := newFixture(t, time.Now())
	v := validator.New()
	c := New(DefaultConfig(), failingTemplates{}, f.directory, notification.NewService(f.store, v), v, nil)

	_, err := c.Run(context.Background(), Options{})
	assert.ErrorContains(t, err, "connection refused")
}
