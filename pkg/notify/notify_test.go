package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/retry"
)

var fast = retry.Policy{MaxAttempts: 3, Initial: time.Millisecond}

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *jobconfig.NotifyConfig
		failed bool
		want   bool
	}{
		{"nil config", nil, false, false},
		{"no webhook", &jobconfig.NotifyConfig{}, false, false},
		{"success", &jobconfig.NotifyConfig{Webhook: "http://x"}, false, true},
		{"failure not wanted", &jobconfig.NotifyConfig{Webhook: "http://x"}, true, false},
		{"failure wanted", &jobconfig.NotifyConfig{Webhook: "http://x", OnFailure: true}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldNotify(tt.cfg, tt.failed))
		})
	}
}

func TestWebhook_Send(t *testing.T) {
	var got Payload
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &jobconfig.NotifyConfig{Webhook: srv.URL, Headers: map[string]string{"X-Token": "abc"}}
	err := NewWebhook(nil, fast).Send(context.Background(), cfg, Payload{
		Event: EventSucceeded, JobID: "acme-daily", SlotKey: "2024-11-03T00-00Z", Status: "success", Content: "secret report",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", header)
	assert.Equal(t, "acme-daily", got.JobID)
	assert.Empty(t, got.Content, "content is only attached on request")
}

func TestWebhook_AttachOutput(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	cfg := &jobconfig.NotifyConfig{Webhook: srv.URL, AttachOutput: true}
	require.NoError(t, NewWebhook(srv.Client(), fast).Send(context.Background(), cfg, Payload{Content: "# report"}))
	assert.Equal(t, "# report", got.Content)
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhook(nil, fast).Send(context.Background(), &jobconfig.NotifyConfig{Webhook: srv.URL}, Payload{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhook(nil, fast).Send(context.Background(), &jobconfig.NotifyConfig{Webhook: srv.URL}, Payload{})
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusGone, serr.Code)
	assert.Equal(t, "gone", serr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_RequiresURL(t *testing.T) {
	assert.Error(t, NewWebhook(nil, fast).Send(context.Background(), nil, Payload{}))
}
