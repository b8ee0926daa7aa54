// Package timeline tool-call extraction. Assistant turns can carry tool calls
// in three representations; this file evaluates them as an explicit tagged
// union with a fixed precedence so the rule is auditable in isolation:
//
//  1. provider side channel (Turn.Extra["tool_calls"], closest to ground truth)
//  2. normalized call list (Turn.ToolCalls, may be post-processed)
//  3. inline tool_use content blocks
//
// Evaluation stops at the first non-empty source.
package timeline

import (
	"encoding/json"

	"goa.design/threadview/remote"
)

// callSource identifies which representation supplied the calls.
type callSource int

const (
	sourceNone callSource = iota
	sourceProvider
	sourceNormalized
	sourceInline
)

// extraction pairs the winning source with its calls.
type extraction struct {
	source callSource
	calls  []remote.ToolCall
}

// extractToolCalls evaluates the three representations in precedence order.
func extractToolCalls(turn remote.Turn) extraction {
	if calls := providerToolCalls(turn.Extra); len(calls) > 0 {
		return extraction{source: sourceProvider, calls: calls}
	}
	if len(turn.ToolCalls) > 0 {
		return extraction{source: sourceNormalized, calls: turn.ToolCalls}
	}
	if calls := inlineToolCalls(turn.Content); len(calls) > 0 {
		return extraction{source: sourceInline, calls: calls}
	}
	return extraction{source: sourceNone}
}

// providerToolCalls decodes the provider side channel. The provider shape
// nests name and arguments under "function", with arguments delivered either
// as a JSON string or a decoded object; a flat {id,name,args} shape is also
// tolerated. Entries with no recoverable shape are skipped.
func providerToolCalls(extra map[string]any) []remote.ToolCall {
	raw, ok := extra["tool_calls"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	calls := make([]remote.ToolCall, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		call := remote.ToolCall{}
		if id, ok := obj["id"].(string); ok {
			call.ID = id
		}
		if fn, ok := obj["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				call.Name = name
			}
			call.Args = decodeArgs(fn["arguments"])
		} else {
			if name, ok := obj["name"].(string); ok {
				call.Name = name
			}
			call.Args = decodeArgs(obj["args"])
		}
		if call.ID == "" && call.Name == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// inlineToolCalls collects tool_use content blocks in order.
func inlineToolCalls(content remote.Content) []remote.ToolCall {
	var calls []remote.ToolCall
	for _, part := range content {
		use, ok := part.(remote.ToolUsePart)
		if !ok {
			continue
		}
		calls = append(calls, remote.ToolCall{
			ID:   use.ID,
			Name: use.Name,
			Args: use.Input,
		})
	}
	return calls
}

// decodeArgs accepts provider argument payloads as either a decoded object or
// a JSON-encoded string. Anything else yields nil.
func decodeArgs(v any) map[string]any {
	switch args := v.(type) {
	case map[string]any:
		return args
	case string:
		if args == "" {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(args), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}
