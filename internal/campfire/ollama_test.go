package campfire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campfirevalley/riverboat/internal/client"
)

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"response":"APPROVED"}`))
	}))
	defer srv.Close()

	o := NewOllamaClient(srv.URL, "llama3.2", nil, nil)
	out, err := o.Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", out)
}

func TestOllamaBreakerOpensAndRecovers(t *testing.T) {
	var calls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	now := time.Now()
	breaker := client.NewCircuitBreaker(1, time.Minute)
	breaker.SetClock(func() time.Time { return now })
	o := NewOllamaClient(srv.URL, "llama3.2", nil, breaker)

	_, err := o.Generate(context.Background(), "sys", "prompt")
	require.Error(t, err)
	require.Equal(t, client.BreakerOpen, breaker.State())
	before := calls.Load()

	_, err = o.Generate(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.Equal(t, before, calls.Load(), "open circuit must not reach the daemon")

	failing.Store(false)
	now = now.Add(2 * time.Minute)
	out, err := o.Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, client.BreakerClosed, breaker.State())
}

func TestPromptCamperFallsBackWhenGenerateFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPromptCamper(RoleBackend, NewOllamaClient(srv.URL, "llama3.2", nil, nil), nil)
	contrib, err := c.Process(context.Background(), genTask())
	require.NoError(t, err)
	require.Len(t, contrib.Files, 1)
	assert.Equal(t, "hello.py", contrib.Files[0].Path, "failed generation degrades to the canned response")
}
