package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/interface/http/handlers"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

type recordingWebhook struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (h *recordingWebhook) HandleTelegramUpdate(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(payload))
	return h.err
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) *httptest.Server {
	t.Helper()
	deps.Logger = logger.Discard()
	ts := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, secret, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(handlers.SecretTokenHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_Root(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), Dependencies{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RootMessage, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), Dependencies{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestServer_Ready(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker(time.Second)
	checker.AddCheck("store", func(context.Context) error { return nil })
	ts := newTestServer(t, DefaultConfig(), Dependencies{HealthChecker: checker})

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") })
	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out struct {
		Data handlers.HealthStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Data.Ready)
	assert.Equal(t, "Some checks failed: redis", out.Data.Message)
	assert.True(t, out.Data.Checks["store"].Healthy)
}

type staticJobs []handlers.JobStatus

func (j staticJobs) Jobs() []handlers.JobStatus { return j }

type runner bool

func (r runner) IsRunning() bool { return bool(r) }

func TestServer_Jobs(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), Dependencies{})
	resp, err := http.Get(ts.URL + "/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	next := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	jobs := staticJobs{{Name: "daily_delivery", Schedule: "0 10 * * *", NextRun: &next, RunCount: 3, FailCount: 1, LastError: "list: boom"}}
	ts = newTestServer(t, DefaultConfig(), Dependencies{Jobs: jobs})

	resp, err = http.Get(ts.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data []handlers.JobStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "daily_delivery", out.Data[0].Name)
	assert.Equal(t, int64(3), out.Data[0].RunCount)
	assert.Equal(t, "list: boom", out.Data[0].LastError)
	require.NotNil(t, out.Data[0].NextRun)
	assert.True(t, next.Equal(*out.Data[0].NextRun))
}

func TestRunningCheck(t *testing.T) {
	assert.NoError(t, handlers.NewRunningCheck("scheduler", runner(true))(context.Background()))
	assert.EqualError(t, handlers.NewRunningCheck("scheduler", runner(false))(context.Background()), "scheduler is not running")
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), Dependencies{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "lessons_up 1")
	})
	ts = newTestServer(t, DefaultConfig(), Dependencies{Metrics: metrics})
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "lessons_up 1")
}

func TestServer_Webhook(t *testing.T) {
	hook := &recordingWebhook{}
	cfg := DefaultConfig()
	cfg.WebhookSecret = "s3cret"
	ts := newTestServer(t, cfg, Dependencies{WebhookHandler: hook})

	t.Run("accepts both paths", func(t *testing.T) {
		resp := post(t, ts.URL+"/webhook/telegram", "s3cret", `{"update_id":1}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp = post(t, ts.URL+"/webhook", "s3cret", `{"update_id":2}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{`{"update_id":1}`, `{"update_id":2}`}, hook.payloads)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		resp := post(t, ts.URL+"/webhook/telegram", "nope", `{"update_id":3}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp = post(t, ts.URL+"/webhook/telegram", "", `{"update_id":3}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Len(t, hook.payloads, 2)
	})

	t.Run("rejects GET", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/webhook/telegram")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestServer_WebhookErrors(t *testing.T) {
	hook := &recordingWebhook{}
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 32
	ts := newTestServer(t, cfg, Dependencies{WebhookHandler: hook})

	resp := post(t, ts.URL+"/webhook/telegram", "", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	hook.err = fmt.Errorf("%w: unexpected EOF", handlers.ErrInvalidUpdate)
	resp = post(t, ts.URL+"/webhook/telegram", "", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	hook.err = errors.New("queue closed")
	resp = post(t, ts.URL+"/webhook/telegram", "", `{"update_id":9}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_WebhookDisabled(t *testing.T) {
	ts := newTestServer(t, DefaultConfig(), Dependencies{})
	resp := post(t, ts.URL+"/webhook/telegram", "", `{"update_id":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StartShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewServer(cfg, Dependencies{Logger: logger.Discard()})

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.running
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}
