package model

// TemplateTypeBeforeClass is the template type the creator schedules.
const TemplateTypeBeforeClass = "before_class"

// Template is a scheduling rule: when to send (day offset + local time of
// day) and what to send.
type Template struct {
	ID                       string  `json:"id" db:"id" validate:"required"`
	Name                     string  `json:"name" db:"name"`
	TemplateType             string  `json:"template_type" db:"template_type"`
	Content                  string  `json:"content" db:"content" validate:"required"`
	TimingType               string  `json:"timing_type" db:"timing_type"`
	TimingValue              int     `json:"timing_value" db:"timing_value" validate:"gte=0"`
	TimingHour               int     `json:"timing_hour" db:"timing_hour" validate:"gte=0,lte=23"`
	TimingMinute             int     `json:"timing_minute" db:"timing_minute" validate:"gte=0,lte=59"`
	ClassListItemTemplate    *string `json:"class_list_item_template,omitempty" db:"class_list_item_template"`
	ClassListSummaryTemplate *string `json:"class_list_summary_template,omitempty" db:"class_list_summary_template"`
	BranchID                 *string `json:"branch_id,omitempty" db:"branch_id"`
	BranchName               *string `json:"branch_name,omitempty" db:"branch_name"`
	IsActive                 bool    `json:"is_active" db:"is_active"`
}

// NotificationType is the notification type tag for the template's offset.
func (t *Template) NotificationType() string {
	return NotificationTypeFor(t.TimingValue)
}

// TemplateFilter selects templates from the registry.
type TemplateFilter struct {
	TemplateType string
	TemplateID   string
	GlobalOnly   bool
}
