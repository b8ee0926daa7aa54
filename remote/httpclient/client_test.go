package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"goa.design/threadview/remote"
	"goa.design/threadview/remote/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestNewRequiresBase(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestSubmitRoutes(t *testing.T) {
	var gotPath string
	var gotBody remote.SubmitRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	req := remote.SubmitRequest{Config: remote.RunConfig{Model: "claude", RecursionLimit: 50}}
	require.NoError(t, c.Submit(context.Background(), "th1", req))
	assert.Equal(t, "/threads/th1/runs", gotPath)
	assert.Equal(t, "claude", gotBody.Config.Model)

	require.NoError(t, c.Submit(context.Background(), "", req))
	assert.Equal(t, "/runs", gotPath)
}

func TestCancelRun(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusAccepted)
	})
	require.NoError(t, c.CancelRun(context.Background(), "th1"))
	assert.Equal(t, "/threads/th1/runs/cancel", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestSubscribeUnsupported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })
	_, err := c.Subscribe(context.Background(), "th1", func(remote.ThreadEvent) {})
	require.ErrorIs(t, err, remote.ErrStreamingUnsupported)
}

func TestGetThread(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/th1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(remote.Thread{
			ID:       "th1",
			Metadata: map[string]any{"title": "chat"},
		})
	})
	thread, err := c.GetThread(context.Background(), "th1")
	require.NoError(t, err)
	assert.Equal(t, "th1", thread.ID)
	assert.Equal(t, "chat", thread.Metadata["title"])
}

func TestGetThreadRetriesTransientFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(remote.Thread{ID: "th1"})
	}, WithRetry(retry.Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
	}))
	thread, err := c.GetThread(context.Background(), "th1")
	require.NoError(t, err)
	assert.Equal(t, "th1", thread.ID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGetThreadNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such thread", http.StatusNotFound)
	})
	_, err := c.GetThread(context.Background(), "th1")
	require.True(t, remote.IsNotFound(err))
	var se *remote.HTTPStatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "no such thread", se.Message)
}

func TestPatchThreadMetadata(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		w.WriteHeader(http.StatusOK)
	})
	metadata := map[string]any{"artifacts": []any{map[string]any{"artifact_id": "a1"}}}
	require.NoError(t, c.PatchThreadMetadata(context.Background(), "th1", metadata))
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Contains(t, gotBody, "metadata")
}

func TestSearchAgents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assistants/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "research", body["graph_id"])
		_ = json.NewEncoder(w).Encode([]remote.Agent{{ID: "a1", GraphName: "research"}})
	})
	agents, err := c.SearchAgents(context.Background(), "research")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/artifacts", r.URL.Path)
		assert.Equal(t, "a.png", r.URL.Query().Get("filename"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("img"), data)
		_ = json.NewEncoder(w).Encode(remote.UploadResult{
			ArtifactID:  "art-1",
			StorageURL:  "https://store.example.com/a.png",
			StoragePath: "uploads/a.png",
		})
	})
	res, err := c.Upload(context.Background(), "a.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "art-1", res.ArtifactID)
}

func TestUploadStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	})
	_, err := c.Upload(context.Background(), "a.png", nil)
	var se *remote.HTTPStatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInsufficientStorage, se.StatusCode)
	assert.Equal(t, "quota exceeded", se.Message)
}

func TestHeadersAndBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "tv", r.Header.Get("X-Client"))
		w.WriteHeader(http.StatusOK)
	}, WithBearerToken("tok"), WithHeader("X-Client", "tv"))
	require.NoError(t, c.CancelRun(context.Background(), "th1"))
}

func TestRateLimiterHonorsContext(t *testing.T) {
	// A zero-rate limiter blocks forever; the context must unblock it.
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, WithRateLimiter(rate.NewLimiter(0, 0)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.CancelRun(ctx, "th1")
	require.Error(t, err)
}
