// Package render turns templates and a recipient's sessions into message text.
package render

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/lesson-notifier/internal/model"
)

const (
	DefaultClassListItemTemplate = "【{{classNumber}}】{{subjectName}}\n" +
		"時間: {{startTime}}〜{{endTime}} ({{duration}})\n" +
		"講師: {{teacherName}}\n" +
		"生徒: {{studentName}}\n" +
		"ブース: {{boothName}}"
	DefaultClassListSummaryTemplate = "合計 {{classCount}}コマ ({{firstClassTime}}〜{{lastClassTime}})"

	MissingStudent = "生徒未設定"
	MissingTeacher = "講師未設定"
	MissingSubject = "科目未設定"
	MissingBooth   = "ブース未設定"

	itemSeparator = "\n\n"
	clockLayout   = "15:04"
	dateLayout    = "2006年1月2日"
)

var (
	placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

	teacherLine = regexp.MustCompile(regexp.QuoteMeta("講師: {{teacherName}}") + `\n?`)
	studentLine = regexp.MustCompile(regexp.QuoteMeta("生徒: {{studentName}}") + `\n?`)
)

// Replace substitutes every {{name}} in tmpl with vars[name]. Unknown
// placeholders are left as they are.
func Replace(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Input is everything needed to render one recipient's message.
type Input struct {
	Template   *model.Template
	Recipient  model.Recipient
	TargetDate time.Time
	Now        time.Time
}

// Message is a rendered notification body plus the branch it belongs to.
type Message struct {
	Text      string
	BranchID  *string
	Variables map[string]string
}

// Render builds the recipient's message from the template content.
func Render(in Input) Message {
	sessions := SortSessions(in.Recipient.Sessions)

	itemTmpl := DefaultClassListItemTemplate
	if t := in.Template.ClassListItemTemplate; t != nil && *t != "" {
		itemTmpl = *t
	}
	summaryTmpl := DefaultClassListSummaryTemplate
	if t := in.Template.ClassListSummaryTemplate; t != nil {
		summaryTmpl = *t
	}

	vars := map[string]string{
		"dailyClassList": ClassList(in.Recipient.Type, sessions, itemTmpl, summaryTmpl),
		"recipientName":  in.Recipient.Name,
		"recipientType":  in.Recipient.Type.Label(),
		"classDate":      in.TargetDate.Format(dateLayout),
		"currentDate":    in.Now.Format(dateLayout),
		"classCount":     strconv.Itoa(len(sessions)),
		"firstClassTime": "",
		"lastClassTime":  "",
		"totalDuration":  FormatDuration(TotalDuration(sessions)),
		"branchName":     branchName(sessions, in.Template),
	}
	if len(sessions) > 0 {
		vars["firstClassTime"] = wallClock(sessions[0].StartTime)
		vars["lastClassTime"] = wallClock(sessions[len(sessions)-1].EndTime)
	}

	return Message{
		Text:      Replace(in.Template.Content, vars),
		BranchID:  ResolveBranchID(sessions),
		Variables: vars,
	}
}

// ClassList renders one item per session, separated by a blank line, and a
// summary block when summaryTmpl is non-empty. The recipient's own name line
// is dropped from every item.
func ClassList(rt model.RecipientType, sessions []model.Session, itemTmpl, summaryTmpl string) string {
	switch rt {
	case model.RecipientTeacher:
		itemTmpl = teacherLine.ReplaceAllString(itemTmpl, "")
	case model.RecipientStudent:
		itemTmpl = studentLine.ReplaceAllString(itemTmpl, "")
	}

	items := make([]string, 0, len(sessions))
	for i, s := range sessions {
		items = append(items, Replace(itemTmpl, ItemVariables(i, s)))
	}
	list := strings.Join(items, itemSeparator)

	if summaryTmpl != "" && len(sessions) > 0 {
		list += itemSeparator + Replace(summaryTmpl, map[string]string{
			"classCount":     strconv.Itoa(len(sessions)),
			"firstClassTime": wallClock(sessions[0].StartTime),
			"lastClassTime":  wallClock(sessions[len(sessions)-1].EndTime),
		})
	}
	return list
}

// wallClock formats a class time. Session times are stored as UTC wall-clock
// values, whatever location the driver hands them back in.
func wallClock(t time.Time) string {
	return t.UTC().Format(clockLayout)
}

// ItemVariables returns the variables of the index-th session item.
func ItemVariables(index int, s model.Session) map[string]string {
	return map[string]string{
		"classNumber": strconv.Itoa(index + 1),
		"subjectName": orDefault(s.SubjectName, MissingSubject),
		"startTime":   wallClock(s.StartTime),
		"endTime":     wallClock(s.EndTime),
		"teacherName": orDefault(s.TeacherName, MissingTeacher),
		"studentName": orDefault(s.StudentName, MissingStudent),
		"boothName":   orDefault(s.BoothName, MissingBooth),
		"duration":    fmt.Sprintf("%d分", int(s.Duration().Minutes())),
	}
}

// SortSessions returns a copy of sessions ordered by start time.
func SortSessions(sessions []model.Session) []model.Session {
	sorted := slices.Clone(sessions)
	slices.SortStableFunc(sorted, func(a, b model.Session) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return sorted
}

// TotalDuration sums the session lengths.
func TotalDuration(sessions []model.Session) time.Duration {
	var total time.Duration
	for _, s := range sessions {
		total += s.Duration()
	}
	return total
}

// FormatDuration renders d as "N時間M分", "N時間" or "M分".
func FormatDuration(d time.Duration) string {
	total := int(d.Minutes())
	hours, minutes := total/60, total%60
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%d時間%d分", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d時間", hours)
	default:
		return fmt.Sprintf("%d分", minutes)
	}
}

// ResolveBranchID returns the branch shared by every session, else the
// first session's branch. Nil when no session names a branch.
func ResolveBranchID(sessions []model.Session) *string {
	var distinct []string
	for _, s := range sessions {
		if s.BranchID != nil && *s.BranchID != "" && !slices.Contains(distinct, *s.BranchID) {
			distinct = append(distinct, *s.BranchID)
		}
	}
	if len(distinct) == 1 {
		id := distinct[0]
		return &id
	}
	if len(sessions) > 0 && sessions[0].BranchID != nil && *sessions[0].BranchID != "" {
		id := *sessions[0].BranchID
		return &id
	}
	return nil
}

func branchName(sessions []model.Session, tmpl *model.Template) string {
	if len(sessions) > 0 && sessions[0].BranchName != nil && *sessions[0].BranchName != "" {
		return *sessions[0].BranchName
	}
	if tmpl.BranchName != nil {
		return *tmpl.BranchName
	}
	return ""
}

func orDefault(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
