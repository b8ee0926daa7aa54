// Package timeline derives the displayable conversation model from the raw
// turn sequence delivered by the runtime. Correlation is a pure recomputation:
// every pass consumes the full authoritative sequence and produces a fresh
// record list, so replaced batches and out-of-order tool results never leave
// stale derived state behind.
package timeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"goa.design/threadview/remote"
	"goa.design/threadview/telemetry"
)

type (
	// Status is the lifecycle state of a derived tool call.
	Status string

	// ToolCallRecord tracks one tool invocation issued by an assistant turn.
	// Records are derived, never transmitted; the identifier is synthesized
	// when the runtime omitted one.
	ToolCallRecord struct {
		// ID correlates the call with its eventual tool turn.
		ID string
		// Name is the tool name, "tool" when the call was unnamed.
		Name string
		// Args carries the structured call arguments.
		Args map[string]any
		// Status is pending until a matching tool turn arrives, interrupted
		// when an interrupt was active while the owning turn was processed,
		// and completed once the result is known. Completed never regresses.
		Status Status
		// Result is the extracted text content of the matching tool turn.
		// Empty until Status is StatusCompleted.
		Result string
	}

	// Record is one displayable timeline entry. Only human and assistant turns
	// produce records; tool turns fold into the owning assistant record.
	Record struct {
		// Turn is the underlying conversation event.
		Turn remote.Turn
		// ToolCalls lists the calls this turn issued, empty for human turns.
		ToolCalls []ToolCallRecord
		// ShowSeparator is true when this record's role differs from the
		// immediately preceding record's role.
		ShowSeparator bool
	}

	// Correlator folds turn sequences into records. It holds no per-sequence
	// state; the same input always yields the same output.
	Correlator struct {
		log telemetry.Logger
	}

	// Option configures a Correlator.
	Option func(*Correlator)
)

// Tool call lifecycle states.
const (
	// StatusPending indicates no result has been observed yet.
	StatusPending Status = "pending"
	// StatusInterrupted indicates an interrupt was active when the owning
	// assistant turn was processed.
	StatusInterrupted Status = "interrupted"
	// StatusCompleted indicates a matching tool turn supplied the result.
	StatusCompleted Status = "completed"
)

// fallbackToolName is the name of last resort for unnamed calls.
const fallbackToolName = "tool"

// WithLogger overrides the logger used to report orphaned tool results.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{log: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Correlate folds the full ordered turn sequence into displayable records.
// interruptActive reports whether an unresolved interrupt exists at
// processing time; calls created while it is true start interrupted instead
// of pending. Tool turns with no matching call are dropped and reported at
// debug severity.
func (c *Correlator) Correlate(ctx context.Context, turns []remote.Turn, interruptActive bool) []Record {
	records := make([]Record, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case remote.RoleHuman:
			records = append(records, Record{Turn: turn})
		case remote.RoleAssistant:
			records = append(records, Record{
				Turn:      turn,
				ToolCalls: deriveToolCalls(turn, interruptActive),
			})
		case remote.RoleTool:
			if !completeToolCall(records, turn) {
				c.log.Debug(ctx, "dropping orphaned tool result",
					"turn_id", turn.ID, "tool_call_id", turn.ToolCallID)
			}
		default:
			// Unknown roles are skipped; the runtime may add roles the client
			// does not render.
			c.log.Debug(ctx, "skipping turn with unknown role",
				"turn_id", turn.ID, "role", string(turn.Role))
		}
	}
	for i := range records {
		records[i].ShowSeparator = i == 0 || records[i].Turn.Role != records[i-1].Turn.Role
	}
	return records
}

// deriveToolCalls normalizes the extracted calls into records, synthesizing
// identifiers and names as needed. Synthesized identifiers are name-based
// UUIDs over the owning turn id and call position so reprocessing the same
// sequence derives the same ids.
func deriveToolCalls(turn remote.Turn, interruptActive bool) []ToolCallRecord {
	ext := extractToolCalls(turn)
	if len(ext.calls) == 0 {
		return nil
	}
	status := StatusPending
	if interruptActive {
		status = StatusInterrupted
	}
	out := make([]ToolCallRecord, 0, len(ext.calls))
	for i, call := range ext.calls {
		id := call.ID
		if id == "" {
			id = "call-" + uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%d", turn.ID, i)).String()
		}
		name := call.Name
		if name == "" {
			name = fallbackToolName
		}
		out = append(out, ToolCallRecord{
			ID:     id,
			Name:   name,
			Args:   call.Args,
			Status: status,
		})
	}
	return out
}

// completeToolCall locates the call the tool turn answers and marks it
// completed. Identifiers are globally unique, so the first match wins.
// Returns false when no record owns a matching call.
func completeToolCall(records []Record, turn remote.Turn) bool {
	if turn.ToolCallID == "" {
		return false
	}
	for i := range records {
		for j := range records[i].ToolCalls {
			if records[i].ToolCalls[j].ID != turn.ToolCallID {
				continue
			}
			records[i].ToolCalls[j].Status = StatusCompleted
			records[i].ToolCalls[j].Result = turn.Text()
			return true
		}
	}
	return false
}
