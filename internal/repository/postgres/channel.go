package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
)

const channelColumns = `c.channel_id, c.name, bc.branch_id, c.channel_access_token, c.channel_secret, c.is_default, c.is_active`

type channelRepository struct {
	BaseRepository
}

func NewChannelRepository(base BaseRepository) repository.ChannelRepository {
	return &channelRepository{base}
}

func (r *channelRepository) FindByBranch(ctx context.Context, branchID string) (*model.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM line_channels c
		JOIN branch_line_channels bc ON bc.channel_id = c.channel_id
		WHERE bc.branch_id = $1
		AND c.is_active = TRUE
		ORDER BY bc.is_primary DESC, c.channel_id
		LIMIT 1
	`
	return r.get(ctx, query, branchID)
}

func (r *channelRepository) FindDefault(ctx context.Context) (*model.Channel, error) {
	query := `
		SELECT c.channel_id, c.name, NULL AS branch_id, c.channel_access_token,
			c.channel_secret, c.is_default, c.is_active
		FROM line_channels c
		WHERE c.is_default = TRUE
		AND c.is_active = TRUE
		ORDER BY c.channel_id
		LIMIT 1
	`
	return r.get(ctx, query)
}

func (r *channelRepository) get(ctx context.Context, query string, args ...interface{}) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.GetContext(ctx, &ch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get LINE channel: %w", err)
	}
	return &ch, nil
}
