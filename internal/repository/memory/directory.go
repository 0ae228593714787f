package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

// Person is a teacher or student known to the directory.
type Person struct {
	ID                   string
	Name                 string
	LineID               *string
	NotificationsEnabled bool
}

// ClassSession is a scheduled class. Either side may be unassigned.
type ClassSession struct {
	ClassID     string
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	TeacherID   string
	StudentID   string
	SubjectName *string
	BoothName   *string
	BranchID    *string
	BranchName  *string
}

type Directory struct {
	mu       sync.RWMutex
	people   map[model.RecipientType]map[string]Person
	sessions []ClassSession
}

func NewDirectory() *Directory {
	return &Directory{
		people: map[model.RecipientType]map[string]Person{
			model.RecipientTeacher: {},
			model.RecipientStudent: {},
		},
	}
}

var _ repository.RecipientDirectory = (*Directory)(nil)

func (d *Directory) AddTeacher(p Person) { d.add(model.RecipientTeacher, p) }
func (d *Directory) AddStudent(p Person) { d.add(model.RecipientStudent, p) }

func (d *Directory) add(rt model.RecipientType, p Person) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.people[rt][p.ID] = p
}

func (d *Directory) AddSession(s ClassSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, s)
}

// SetNotificationsEnabled flips the opt-in flag of a recipient.
func (d *Directory) SetNotificationsEnabled(rt model.RecipientType, id string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.people[rt][id]; ok {
		p.NotificationsEnabled = enabled
		d.people[rt][id] = p
	}
}

func (d *Directory) ListRecipients(ctx context.Context, date time.Time, recipientType model.RecipientType) ([]model.Recipient, error) {
	if !recipientType.Valid() {
		return nil, fmt.Errorf("unknown recipient type %q", recipientType)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	byID := make(map[string]*model.Recipient)
	var ids []string
	for _, cs := range d.sessions {
		if !model.SameDate(cs.Date, date) || cs.TeacherID == "" || cs.StudentID == "" {
			continue
		}
		selfID := cs.TeacherID
		if recipientType == model.RecipientStudent {
			selfID = cs.StudentID
		}
		self, ok := d.people[recipientType][selfID]
		if !ok || !self.NotificationsEnabled || self.LineID == nil {
			continue
		}

		r, ok := byID[selfID]
		if !ok {
			r = &model.Recipient{Type: recipientType, ID: selfID, LineID: *self.LineID, Name: self.Name}
			byID[selfID] = r
			ids = append(ids, selfID)
		}
		r.Sessions = append(r.Sessions, model.Session{
			ClassID:     cs.ClassID,
			StartTime:   cs.StartTime,
			EndTime:     cs.EndTime,
			SubjectName: cs.SubjectName,
			TeacherName: d.nameOf(model.RecipientTeacher, cs.TeacherID),
			StudentName: d.nameOf(model.RecipientStudent, cs.StudentID),
			BoothName:   cs.BoothName,
			BranchID:    cs.BranchID,
			BranchName:  cs.BranchName,
		})
	}

	sort.Strings(ids)
	recipients := make([]model.Recipient, 0, len(ids))
	for _, id := range ids {
		r := byID[id]
		sort.SliceStable(r.Sessions, func(i, j int) bool {
			return r.Sessions[i].StartTime.Before(r.Sessions[j].StartTime)
		})
		recipients = append(recipients, *r)
	}
	return recipients, nil
}

func (d *Directory) nameOf(rt model.RecipientType, id string) *string {
	p, ok := d.people[rt][id]
	if !ok {
		return nil
	}
	name := p.Name
	return &name
}

func (d *Directory) LookupIdentity(ctx context.Context, recipientType model.RecipientType, recipientID string) (*model.Identity, error) {
	if !recipientType.Valid() {
		return nil, fmt.Errorf("unknown recipient type %q", recipientType)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.people[recipientType][recipientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.Identity{LineID: p.LineID, NotificationsEnabled: p.NotificationsEnabled}, nil
}

type TemplateStore struct {
	mu        sync.RWMutex
	templates []*model.Template
}

func NewTemplateStore(templates ...*model.Template) *TemplateStore {
	return &TemplateStore{templates: templates}
}

var _ repository.TemplateRepository = (*TemplateStore)(nil)

func (s *TemplateStore) Add(t *model.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, t)
}

func (s *TemplateStore) ListActive(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Template
	for _, t := range s.templates {
		switch {
		case !t.IsActive:
		case filter.TemplateType != "" && t.TemplateType != filter.TemplateType:
		case filter.TemplateID != "" && t.ID != filter.TemplateID:
		case filter.GlobalOnly && t.BranchID != nil:
		default:
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimingHour != out[j].TimingHour {
			return out[i].TimingHour < out[j].TimingHour
		}
		if out[i].TimingMinute != out[j].TimingMinute {
			return out[i].TimingMinute < out[j].TimingMinute
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type ChannelStore struct {
	mu       sync.RWMutex
	channels []*model.Channel
}

func NewChannelStore(channels ...*model.Channel) *ChannelStore {
	return &ChannelStore{channels: channels}
}

var _ repository.ChannelRepository = (*ChannelStore)(nil)

func (s *ChannelStore) FindByBranch(ctx context.Context, branchID string) (*model.Channel, error) {
	return s.find(func(c *model.Channel) bool {
		return c.BranchID != nil && *c.BranchID == branchID
	})
}

func (s *ChannelStore) FindDefault(ctx context.Context) (*model.Channel, error) {
	return s.find(func(c *model.Channel) bool { return c.IsDefault })
}

func (s *ChannelStore) find(match func(*model.Channel) bool) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.channels {
		if c.IsActive && match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}
