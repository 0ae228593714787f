// Package channel resolves which LINE channel a notification is sent through.
package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/security"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	defaultKey = "default"
)

type RegistryConfig struct {
	CacheTTL time.Duration
	// Fallback is used when neither the branch nor a default channel is registered.
	Fallback *model.ChannelCredentials
}

type Registry struct {
	repo     repository.ChannelRepository
	enc      security.Encryptor
	fallback *model.ChannelCredentials
	cache    *cache.Cache
	logger   *logger.Logger
}

// NewRegistry builds a registry. A nil enc means stored credentials are plaintext.
func NewRegistry(cfg RegistryConfig, repo repository.ChannelRepository, enc security.Encryptor, log *logger.Logger) *Registry {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	var fallback *model.ChannelCredentials
	if cfg.Fallback != nil && cfg.Fallback.ChannelAccessToken != "" {
		fallback = cfg.Fallback
	}
	return &Registry{
		repo:     repo,
		enc:      enc,
		fallback: fallback,
		cache:    cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger:   log,
	}
}

// Resolve returns credentials for branchID: the branch channel, then the
// default channel, then the configured fallback.
func (r *Registry) Resolve(ctx context.Context, branchID *string) (model.ChannelCredentials, error) {
	if branchID != nil && *branchID != "" {
		creds, found, err := r.lookup("branch:"+*branchID, func() (*model.Channel, error) {
			return r.repo.FindByBranch(ctx, *branchID)
		})
		if err != nil || found {
			return creds, err
		}
	}

	creds, found, err := r.lookup(defaultKey, func() (*model.Channel, error) {
		return r.repo.FindDefault(ctx)
	})
	if err != nil || found {
		return creds, err
	}

	if r.fallback != nil {
		return *r.fallback, nil
	}
	return model.ChannelCredentials{}, errors.Transport("no LINE channel configured", nil)
}

func (r *Registry) lookup(key string, find func() (*model.Channel, error)) (model.ChannelCredentials, bool, error) {
	if v, ok := r.cache.Get(key); ok {
		return v.(model.ChannelCredentials), true, nil
	}

	ch, err := find()
	if stderrors.Is(err, repository.ErrNotFound) {
		return model.ChannelCredentials{}, false, nil
	}
	if err != nil {
		return model.ChannelCredentials{}, false, errors.Transport("failed to load LINE channel", err)
	}

	creds, err := r.decrypt(ch)
	if err != nil {
		r.logger.Error(err, "failed to decrypt channel credentials", "channel_id", ch.ChannelID)
		return model.ChannelCredentials{}, false, errors.Transport("unusable LINE channel credentials", err)
	}
	r.cache.SetDefault(key, creds)
	return creds, true, nil
}

func (r *Registry) decrypt(ch *model.Channel) (model.ChannelCredentials, error) {
	creds := model.ChannelCredentials{
		ChannelID:          ch.ChannelID,
		ChannelAccessToken: ch.EncryptedChannelAccessToken,
		ChannelSecret:      ch.EncryptedChannelSecret,
	}
	if r.enc == nil {
		return creds, nil
	}

	token, err := security.DecryptString(r.enc, ch.EncryptedChannelAccessToken)
	if err != nil {
		return creds, fmt.Errorf("channel %s access token: %w", ch.ChannelID, err)
	}
	creds.ChannelAccessToken = token

	if ch.EncryptedChannelSecret != "" {
		secret, err := security.DecryptString(r.enc, ch.EncryptedChannelSecret)
		if err != nil {
			return creds, fmt.Errorf("channel %s secret: %w", ch.ChannelID, err)
		}
		creds.ChannelSecret = secret
	}
	return creds, nil
}

// Invalidate drops every cached credential.
func (r *Registry) Invalidate() {
	r.cache.Flush()
}
