package channel

import (
	"context"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/line"
)

// LineSender pushes text messages through the LINE Messaging API.
type LineSender struct {
	client *line.Client
}

func NewLineSender(client *line.Client) *LineSender {
	return &LineSender{client: client}
}

func (s *LineSender) Send(ctx context.Context, creds model.ChannelCredentials, to, text string) error {
	err := s.client.Multicast(ctx, line.Credentials{
		ChannelAccessToken: creds.ChannelAccessToken,
		ChannelSecret:      creds.ChannelSecret,
	}, []string{to}, text)
	if err != nil {
		return errors.Transport("LINE send failed", err)
	}
	return nil
}
