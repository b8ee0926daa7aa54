// Package remote defines the contract between threadview and the remote agent
// runtime. It declares the wire types delivered by the runtime event stream
// (turns, content parts, interrupt values), the request types the client
// submits, and the narrow collaborator interfaces the engine consumes (thread
// metadata store, agent directory, artifact uploader). Implementations live in
// subpackages (httpclient, pulse); the engine packages depend only on the
// interfaces declared here.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type (
	// Role identifies the originator of a Turn.
	Role string

	// Turn is one conversation event as emitted by the runtime. Turns are
	// immutable once received; the runtime may replace the whole sequence on
	// reconnect, so each delivered batch is authoritative and must never be
	// merged by append.
	Turn struct {
		// ID is the stable identifier assigned by the runtime.
		ID string `json:"id"`
		// Role is one of RoleHuman, RoleAssistant, or RoleTool.
		Role Role `json:"role"`
		// Content holds the ordered typed parts of the turn. A plain string on
		// the wire decodes into a single TextPart.
		Content Content `json:"content"`
		// ToolCalls is the normalized tool-call list attached to assistant
		// turns. Entries may be post-processed by the runtime (for example,
		// empty-named calls filtered out), so ProviderToolCalls takes
		// precedence when both are present.
		ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		// Extra carries the provider-specific side channel verbatim. For
		// providers that report tool calls outside the normalized list, the
		// calls appear under Extra["tool_calls"] in the provider's own shape.
		Extra map[string]any `json:"extra,omitempty"`
		// ToolCallID correlates a tool turn back to the assistant tool call it
		// answers. Set only when Role is RoleTool.
		ToolCallID string `json:"tool_call_id,omitempty"`
	}

	// Content is the ordered part list of a Turn. It decodes from either a
	// bare JSON string or an array of typed part objects.
	Content []Part

	// Part is one typed content fragment of a Turn. Implementations are
	// TextPart, ImageRefPart, and ToolUsePart.
	Part interface {
		isPart()
	}

	// TextPart carries visible text.
	TextPart struct {
		Text string `json:"text"`
	}

	// ImageRefPart references an uploaded artifact by URL.
	ImageRefPart struct {
		// URL is the public or signed URL of the artifact.
		URL string `json:"url"`
		// ArtifactID identifies the artifact in the backing store when known.
		ArtifactID string `json:"artifact_id,omitempty"`
	}

	// ToolUsePart is an inline tool invocation embedded in assistant content.
	// Some providers report tool calls this way instead of (or in addition to)
	// the normalized list.
	ToolUsePart struct {
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input,omitempty"`
	}

	// ToolCall is a normalized tool invocation request.
	ToolCall struct {
		// ID correlates the call with a later tool turn. May be empty on the
		// wire; consumers synthesize an identifier when absent.
		ID string `json:"id"`
		// Name is the tool name. May be empty for malformed provider output.
		Name string `json:"name"`
		// Args carries the structured call arguments.
		Args map[string]any `json:"args,omitempty"`
	}

	// Thread is the runtime-side conversation container.
	Thread struct {
		ID string `json:"thread_id"`
		// Metadata is replaced wholesale by PatchThreadMetadata; clients must
		// read-merge-write to avoid clobbering concurrent updates.
		Metadata  map[string]any `json:"metadata"`
		CreatedAt time.Time      `json:"created_at"`
		UpdatedAt time.Time      `json:"updated_at"`
	}

	// Agent is the runtime's descriptor for a deployed agent.
	Agent struct {
		ID        string         `json:"assistant_id"`
		GraphName string         `json:"graph_id"`
		Name      string         `json:"name"`
		Config    map[string]any `json:"config,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// ThreadEvent is one push notification from the runtime event stream.
	// Every event carries the authoritative turn sequence as of that moment.
	ThreadEvent struct {
		// ThreadID is the thread the event belongs to. On the first event of a
		// newly created thread this is the moment the client learns the id.
		ThreadID string `json:"thread_id"`
		// Turns is the full turn sequence. It replaces, never extends, any
		// previously delivered sequence.
		Turns []Turn `json:"turns"`
		// Interrupt is the currently active interrupt value, nil when the run
		// is not paused. The shape is opaque here; interrupts.Resolve decodes
		// it.
		Interrupt any `json:"interrupt,omitempty"`
		// AgentID identifies the agent serving the thread when the runtime
		// reports it, either a stored UUID or a symbolic graph name. Empty
		// when the event carries no agent information.
		AgentID string `json:"agent_id,omitempty"`
		// State carries arbitrary keyed run state (task lists, file listings)
		// passed through to consumers that know how to render it.
		State map[string]any `json:"state,omitempty"`
	}

	// RunConfig captures the execution configuration merged into every submit.
	RunConfig struct {
		Model          string   `json:"model,omitempty"`
		Tools          []string `json:"tools,omitempty"`
		Subagents      []string `json:"subagents,omitempty"`
		RecursionLimit int      `json:"recursion_limit,omitempty"`
	}

	// RunControl carries run-control directives for a submit: pausing around a
	// named step, resuming a paused run, or jumping to a terminal state.
	RunControl struct {
		// InterruptBefore names a step to pause before, or "*" for all.
		InterruptBefore string `json:"interrupt_before,omitempty"`
		// InterruptAfter names a step to pause after, or "*" for all.
		InterruptAfter string `json:"interrupt_after,omitempty"`
		// Resume carries the response to the active interrupt. Non-nil means
		// this submit resumes a paused run.
		Resume any `json:"resume,omitempty"`
		// Goto names a state to transition to with no further processing.
		Goto string `json:"goto,omitempty"`
	}

	// SubmitRequest is one submission to the runtime for a thread.
	SubmitRequest struct {
		// Turns holds new turns to append, empty for control-only submissions.
		Turns []Turn `json:"turns,omitempty"`
		// Config is the execution configuration for the run.
		Config RunConfig `json:"config"`
		// Control carries run-control directives.
		Control RunControl `json:"control"`
	}

	// UploadResult reports a completed artifact upload.
	UploadResult struct {
		ArtifactID  string `json:"artifact_id"`
		StorageURL  string `json:"storage_url"`
		StoragePath string `json:"storage_path"`
	}

	// Subscription is a live event stream registration. Close tears down the
	// underlying transport resources.
	Subscription interface {
		Close() error
	}

	// Handler receives stream events. Transports invoke it from a single
	// goroutine per subscription.
	Handler func(ThreadEvent)

	// Submitter submits work to the runtime.
	Submitter interface {
		// Submit sends a run submission for the given thread. An empty
		// threadID asks the runtime to create a thread; its id is learned from
		// the event stream.
		Submit(ctx context.Context, threadID string, req SubmitRequest) error
		// CancelRun cancels the in-flight run on the thread.
		CancelRun(ctx context.Context, threadID string) error
	}

	// Streamer subscribes to the runtime event stream.
	Streamer interface {
		// Subscribe registers a handler for the thread's event stream.
		// Transports that do not support streaming return
		// ErrStreamingUnsupported.
		Subscribe(ctx context.Context, threadID string, h Handler) (Subscription, error)
	}

	// Client is the full runtime transport: submissions plus streaming. Use
	// Compose to pair a Submitter with an independent Streamer when no single
	// transport serves both.
	Client interface {
		Submitter
		Streamer
	}

	// ThreadStore reads and writes thread metadata.
	ThreadStore interface {
		// GetThread fetches the thread. Returns a *HTTPStatusError with a 404
		// status when the thread does not exist.
		GetThread(ctx context.Context, threadID string) (Thread, error)
		// PatchThreadMetadata replaces the thread metadata wholesale. Callers
		// must send the full merged object, never a partial update.
		PatchThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error
	}

	// AgentDirectory looks up deployed agents.
	AgentDirectory interface {
		// GetAgent fetches an agent by identifier.
		GetAgent(ctx context.Context, agentID string) (Agent, error)
		// SearchAgents lists agents backed by the named graph.
		SearchAgents(ctx context.Context, graphName string) ([]Agent, error)
	}

	// Uploader stores an artifact and returns its reference. Failures carry an
	// HTTP status via *HTTPStatusError when the backing store reports one.
	Uploader interface {
		Upload(ctx context.Context, filename string, content []byte) (UploadResult, error)
	}

	// HTTPStatusError is a transport error carrying the HTTP status code
	// reported by the runtime or the artifact store.
	HTTPStatusError struct {
		StatusCode int
		Message    string
	}
)

// Role values emitted by the runtime.
const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MetadataCreatedBySystem is the agent metadata key marking the
// system-provided default agent for a graph.
const MetadataCreatedBySystem = "created_by"

// MetadataValueSystem is the MetadataCreatedBySystem value identifying the
// system default.
const MetadataValueSystem = "system"

// ErrStreamingUnsupported indicates the transport does not implement event
// stream subscriptions.
var ErrStreamingUnsupported = errors.New("remote: streaming not supported")

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("remote: http status %d: %s", e.StatusCode, e.Message)
}

// Compose pairs a Submitter with a Streamer into one Client. Typical wiring
// submits over HTTP while streaming over Pulse.
func Compose(s Submitter, st Streamer) Client {
	return composed{Submitter: s, Streamer: st}
}

type composed struct {
	Submitter
	Streamer
}

// IsNotFound reports whether err is an HTTPStatusError with a 404 status.
func IsNotFound(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

// IsSystemDefault reports whether the agent's metadata marks it as the
// system-provided default for its graph.
func (a Agent) IsSystemDefault() bool {
	v, ok := a.Metadata[MetadataCreatedBySystem]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == MetadataValueSystem
}

// Text concatenates the text parts of the turn content, separated by nothing.
// Non-text parts are skipped.
func (t Turn) Text() string {
	var out string
	for _, p := range t.Content {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

func (TextPart) isPart()     {}
func (ImageRefPart) isPart() {}
func (ToolUsePart) isPart()  {}
