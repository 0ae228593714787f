package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(base BaseRepository) repository.TemplateRepository {
	return &templateRepository{base}
}

func (r *templateRepository) ListActive(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error) {
	query := `
		SELECT t.id, t.name, t.template_type, t.content, t.timing_type,
			t.timing_value, t.timing_hour, COALESCE(t.timing_minute, 0) AS timing_minute,
			t.class_list_item_template, t.class_list_summary_template,
			t.branch_id, b.name AS branch_name, t.is_active
		FROM line_message_templates t
		LEFT JOIN branches b ON b.branch_id = t.branch_id
		WHERE t.is_active = TRUE
	`
	var (
		conds []string
		args  []interface{}
	)
	if filter.TemplateType != "" {
		args = append(args, filter.TemplateType)
		conds = append(conds, fmt.Sprintf("t.template_type = $%d", len(args)))
	}
	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		conds = append(conds, fmt.Sprintf("t.id = $%d", len(args)))
	}
	if filter.GlobalOnly {
		conds = append(conds, "t.branch_id IS NULL")
	}
	for _, c := range conds {
		query += " AND " + c
	}
	query += " ORDER BY t.timing_hour, t.timing_minute, t.id"

	var templates []*model.Template
	if err := r.db.SelectContext(ctx, &templates, strings.TrimSpace(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}
