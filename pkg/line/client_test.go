package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/lesson-notifier/pkg/circuitbreaker"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, RatePerSecond: 1000, Burst: 1000, BreakerFailures: 2})
}

func TestMulticastSendsTextMessage(t *testing.T) {
	var got multicastRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/bot/message/multicast", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Multicast(context.Background(),
		Credentials{ChannelAccessToken: "token-1"}, []string{"U1"}, "明日の授業")
	require.NoError(t, err)

	assert.Equal(t, []string{"U1"}, got.To)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "text", got.Messages[0].Type)
	assert.Equal(t, "明日の授業", got.Messages[0].Text)
}

func TestMulticastSplitsLargeRecipientLists(t *testing.T) {
	var calls int32
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req multicastRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sizes = append(sizes, len(req.To))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	to := make([]string, MaxMulticastRecipients+1)
	for i := range to {
		to[i] = fmt.Sprintf("U%d", i)
	}

	require.NoError(t, newTestClient(srv.URL).Multicast(context.Background(), Credentials{ChannelAccessToken: "t"}, to, "hi"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []int{MaxMulticastRecipients, 1}, sizes)
}

func TestMulticastReturnsAPIErrorOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)","details":[{"message":"invalid user","property":"to[0]"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		err := c.Multicast(context.Background(), Credentials{ChannelAccessToken: "t"}, []string{"bad"}, "hi")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "The request body has 1 error(s)", apiErr.Message)
		require.Len(t, apiErr.Details, 1)
		assert.Equal(t, "to[0]", apiErr.Details[0].Property)
	}
	// client errors never trip the breaker
	assert.Equal(t, "closed", c.breaker.State())
}

func TestMulticastServerErrorsOpenBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	creds := Credentials{ChannelAccessToken: "t"}
	for i := 0; i < 2; i++ {
		var apiErr *APIError
		require.ErrorAs(t, c.Multicast(context.Background(), creds, []string{"U1"}, "hi"), &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	}

	err := c.Multicast(context.Background(), creds, []string{"U1"}, "hi")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMulticastValidatesInput(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	ctx := context.Background()

	assert.ErrorIs(t, c.Multicast(ctx, Credentials{}, []string{"U1"}, "hi"), ErrMissingToken)
	assert.ErrorIs(t, c.Multicast(ctx, Credentials{ChannelAccessToken: "t"}, nil, "hi"), ErrNoRecipients)
	assert.ErrorIs(t, c.Multicast(ctx, Credentials{ChannelAccessToken: "t"}, []string{"U1"}, ""), ErrEmptyMessage)
}
