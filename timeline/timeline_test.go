package timeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/threadview/remote"
)

func human(id, text string) remote.Turn {
	return remote.Turn{ID: id, Role: remote.RoleHuman, Content: remote.Content{remote.TextPart{Text: text}}}
}

func assistant(id string, calls ...remote.ToolCall) remote.Turn {
	return remote.Turn{ID: id, Role: remote.RoleAssistant, ToolCalls: calls}
}

func toolResult(id, callID, text string) remote.Turn {
	return remote.Turn{
		ID:         id,
		Role:       remote.RoleTool,
		ToolCallID: callID,
		Content:    remote.Content{remote.TextPart{Text: text}},
	}
}

func TestCorrelateCompletedCall(t *testing.T) {
	turns := []remote.Turn{
		human("m1", "hi"),
		assistant("m2", remote.ToolCall{ID: "t1", Name: "search"}),
		toolResult("m3", "t1", "3 results"),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 2)
	require.Len(t, records[1].ToolCalls, 1)
	call := records[1].ToolCalls[0]
	assert.Equal(t, StatusCompleted, call.Status)
	assert.Equal(t, "3 results", call.Result)
	assert.Equal(t, "search", call.Name)
}

func TestCorrelatePendingWithoutResult(t *testing.T) {
	turns := []remote.Turn{
		human("m1", "hi"),
		assistant("m2", remote.ToolCall{ID: "t1", Name: "search"}),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 2)
	require.Len(t, records[1].ToolCalls, 1)
	assert.Equal(t, StatusPending, records[1].ToolCalls[0].Status)
	assert.Empty(t, records[1].ToolCalls[0].Result)
}

func TestCorrelateInterruptedStatus(t *testing.T) {
	turns := []remote.Turn{
		assistant("m1", remote.ToolCall{ID: "t1", Name: "write_file"}),
	}
	records := New().Correlate(context.Background(), turns, true)
	require.Len(t, records, 1)
	assert.Equal(t, StatusInterrupted, records[0].ToolCalls[0].Status)
}

func TestCorrelateResultBeatsInterrupt(t *testing.T) {
	// A matching tool turn completes the call even when an interrupt is
	// active; completed never regresses.
	turns := []remote.Turn{
		assistant("m1", remote.ToolCall{ID: "t1", Name: "search"}),
		toolResult("m2", "t1", "done"),
	}
	records := New().Correlate(context.Background(), turns, true)
	require.Len(t, records, 1)
	assert.Equal(t, StatusCompleted, records[0].ToolCalls[0].Status)
}

func TestCorrelateOrphanDropped(t *testing.T) {
	turns := []remote.Turn{
		human("m1", "hi"),
		toolResult("m2", "nope", "lost"),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 1)
	assert.Equal(t, remote.RoleHuman, records[0].Turn.Role)
}

func TestCorrelateSeparators(t *testing.T) {
	turns := []remote.Turn{
		human("m1", "a"),
		human("m2", "b"),
		assistant("m3"),
		assistant("m4"),
		human("m5", "c"),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 5)
	want := []bool{true, false, true, false, true}
	for i, rec := range records {
		assert.Equal(t, want[i], rec.ShowSeparator, "record %d", i)
	}
}

func TestCorrelateSynthesizesIDAndName(t *testing.T) {
	turns := []remote.Turn{
		assistant("m1", remote.ToolCall{Args: map[string]any{"q": "x"}}),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 1)
	require.Len(t, records[0].ToolCalls, 1)
	call := records[0].ToolCalls[0]
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, "tool", call.Name)
}

func TestCorrelateToolResultAcrossSiblings(t *testing.T) {
	// The result may arrive after unrelated turns; only ordering relative to
	// the owning assistant turn is guaranteed.
	turns := []remote.Turn{
		assistant("m1", remote.ToolCall{ID: "t1", Name: "search"}),
		human("m2", "anything new?"),
		assistant("m3", remote.ToolCall{ID: "t2", Name: "fetch"}),
		toolResult("m4", "t1", "eventually"),
	}
	records := New().Correlate(context.Background(), turns, false)
	require.Len(t, records, 3)
	assert.Equal(t, StatusCompleted, records[0].ToolCalls[0].Status)
	assert.Equal(t, "eventually", records[0].ToolCalls[0].Result)
	assert.Equal(t, StatusPending, records[2].ToolCalls[0].Status)
}

func TestExtractPrecedenceProviderWins(t *testing.T) {
	turn := remote.Turn{
		ID:   "m1",
		Role: remote.RoleAssistant,
		Extra: map[string]any{
			"tool_calls": []any{
				map[string]any{
					"id": "p1",
					"function": map[string]any{
						"name":      "search",
						"arguments": `{"q":"pumps"}`,
					},
				},
			},
		},
		ToolCalls: []remote.ToolCall{{ID: "n1", Name: "normalized"}},
		Content:   remote.Content{remote.ToolUsePart{ID: "i1", Name: "inline"}},
	}
	ext := extractToolCalls(turn)
	assert.Equal(t, sourceProvider, ext.source)
	require.Len(t, ext.calls, 1)
	assert.Equal(t, "p1", ext.calls[0].ID)
	assert.Equal(t, "search", ext.calls[0].Name)
	assert.Equal(t, map[string]any{"q": "pumps"}, ext.calls[0].Args)
}

func TestExtractPrecedenceNormalizedThenInline(t *testing.T) {
	turn := remote.Turn{
		ID:        "m1",
		Role:      remote.RoleAssistant,
		ToolCalls: []remote.ToolCall{{ID: "n1", Name: "normalized"}},
		Content:   remote.Content{remote.ToolUsePart{ID: "i1", Name: "inline"}},
	}
	ext := extractToolCalls(turn)
	assert.Equal(t, sourceNormalized, ext.source)

	turn.ToolCalls = nil
	ext = extractToolCalls(turn)
	assert.Equal(t, sourceInline, ext.source)
	require.Len(t, ext.calls, 1)
	assert.Equal(t, "i1", ext.calls[0].ID)

	turn.Content = nil
	ext = extractToolCalls(turn)
	assert.Equal(t, sourceNone, ext.source)
	assert.Empty(t, ext.calls)
}

func TestExtractProviderSkipsMalformedEntries(t *testing.T) {
	turn := remote.Turn{
		Role: remote.RoleAssistant,
		Extra: map[string]any{
			"tool_calls": []any{
				"not an object",
				map[string]any{"function": map[string]any{"arguments": "{}"}},
				map[string]any{"id": "p2", "name": "flat", "args": map[string]any{"k": "v"}},
			},
		},
	}
	ext := extractToolCalls(turn)
	assert.Equal(t, sourceProvider, ext.source)
	require.Len(t, ext.calls, 1)
	assert.Equal(t, "flat", ext.calls[0].Name)
	assert.Equal(t, map[string]any{"k": "v"}, ext.calls[0].Args)
}

func TestDecodeArgsBadJSON(t *testing.T) {
	assert.Nil(t, decodeArgs("{"))
	assert.Nil(t, decodeArgs(""))
	assert.Nil(t, decodeArgs(42))
}
