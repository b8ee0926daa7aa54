package interrupts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNil(t *testing.T) {
	res := Resolve(nil)
	require.NotNil(t, res.Requests)
	require.NotNil(t, res.Reviews)
	assert.Empty(t, res.Requests)
	assert.Empty(t, res.Reviews)
}

func TestResolveMalformed(t *testing.T) {
	for _, value := range []any{
		42,
		"pause",
		[]any{},
		[]any{"not a map"},
		map[string]any{"action_requests": "nope", "review_configs": 7},
		map[string]any{"action_requests": []any{map[string]any{"args": map[string]any{}}}},
	} {
		res := Resolve(value)
		require.NotNil(t, res.Requests)
		require.NotNil(t, res.Reviews)
		assert.Empty(t, res.Requests)
		assert.Empty(t, res.Reviews)
	}
}

func TestResolvePayload(t *testing.T) {
	value := map[string]any{
		"action_requests": []any{
			map[string]any{"name": "write_file", "args": map[string]any{"path": "/tmp/x"}},
			map[string]any{"action": "delete_file", "args": map[string]any{"path": "/tmp/y"}},
		},
		"review_configs": []any{
			map[string]any{
				"action_name":  "write_file",
				"allow_accept": true,
				"allow_edit":   true,
				"allow_reject": false,
				"description":  "writes to disk",
			},
		},
	}
	res := Resolve(value)
	require.Len(t, res.Requests, 2)
	assert.Equal(t, map[string]any{"path": "/tmp/x"}, res.Requests["write_file"].Args)
	assert.Equal(t, "delete_file", res.Requests["delete_file"].Name)
	require.Len(t, res.Reviews, 1)
	cfg := res.Reviews["write_file"]
	assert.True(t, cfg.AllowAccept)
	assert.True(t, cfg.AllowEdit)
	assert.False(t, cfg.AllowReject)
	assert.Equal(t, "writes to disk", cfg.Description)
}

func TestResolveListWrapped(t *testing.T) {
	value := []any{map[string]any{
		"value": map[string]any{
			"action_requests": []any{map[string]any{"name": "search"}},
		},
	}}
	res := Resolve(value)
	require.Len(t, res.Requests, 1)
	assert.Contains(t, res.Requests, "search")
}
