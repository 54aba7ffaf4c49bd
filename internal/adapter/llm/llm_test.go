package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbot/internal/adapter/retry"
)

func chatServer(t *testing.T, status *int32, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)

		if s := atomic.LoadInt32(status); s != http.StatusOK {
			w.WriteHeader(int(s))
			return
		}

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: "Theme: " + req.Messages[1].Content}})
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Options{Provider: "custom", Model: "m", BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_Generate(t *testing.T) {
	status, calls := int32(http.StatusOK), int32(0)
	srv := chatServer(t, &status, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.Generate(context.Background(), "revenue")
	require.NoError(t, err)
	assert.Equal(t, "Theme: revenue", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "custom/m", c.ModelName())
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	status, calls := int32(http.StatusServiceUnavailable), int32(0)
	srv := chatServer(t, &status, &calls)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "x")
	assert.True(t, retry.IsTransient(err))

	atomic.StoreInt32(&status, http.StatusBadRequest)
	_, err = newTestClient(t, srv.URL).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(Options{Provider: "nope", Model: "m"})
	assert.Error(t, err)
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("DOCBOT_TEST_HF", "")
	_, err := NewClient(Options{Provider: "huggingface", Model: "m", APIKeyEnv: "DOCBOT_TEST_HF"})
	assert.Error(t, err)
}

func TestGuardedGenerator_RetriesThenSucceeds(t *testing.T) {
	policy := retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	flaky := &flakyGenerator{failures: 2}
	g := NewGuardedGenerator(flaky, policy, BreakerSettings{}, nil)

	out, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, flaky.calls)
}

func TestGuardedGenerator_OpensBreaker(t *testing.T) {
	status, calls := int32(http.StatusInternalServerError), int32(0)
	srv := chatServer(t, &status, &calls)
	defer srv.Close()

	policy := retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	g := NewGuardedGenerator(newTestClient(t, srv.URL), policy, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), "q")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Generate(context.Background(), "q")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{Reason: errors.New("no key")}.Generate(context.Background(), "q")
	assert.ErrorContains(t, err, "no key")
}

type flakyGenerator struct {
	failures int
	calls    int
}

func (f *flakyGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", retry.Transient(errors.New("429"))
	}
	return "ok", nil
}

func (f *flakyGenerator) ModelName() string { return "flaky" }
