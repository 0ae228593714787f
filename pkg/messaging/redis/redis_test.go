package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/lesson-notifier/pkg/circuitbreaker"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/messaging"
)

func TestPublishTripsBreakerWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	b := newBroker(client, "", logger.Nop())
	assert.Equal(t, messaging.ChannelNotifications, b.channel)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := b.Publish(ctx, messaging.EventNotificationSent, map[string]string{"id": "n-1"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	err := b.Publish(ctx, messaging.EventNotificationSent, map[string]string{"id": "n-1"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisBroker(Config{URL: "::not-a-url"}, logger.Nop())
	assert.Error(t, err)
}
