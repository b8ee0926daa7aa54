// Package assistant resolves the logical agent identity backing a thread. A
// logical identifier is either a concrete agent id (UUID-shaped) or a symbolic
// graph name; resolution always yields a usable descriptor, falling back to a
// synthesized placeholder when the directory is unreachable, so the UI never
// blocks on agent metadata.
package assistant

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/threadview/remote"
	"goa.design/threadview/telemetry"
)

type (
	// Descriptor is the resolved identity of the agent backing a thread.
	Descriptor struct {
		// ID is the concrete agent identifier, or the requested logical id for
		// placeholders.
		ID string
		// GraphName is the graph/family backing the agent.
		GraphName string
		// Name is the display name.
		Name string
		// Config is the agent configuration, nil for placeholders.
		Config map[string]any
		// Metadata is the agent metadata, nil for placeholders.
		Metadata map[string]any
		// IsPlaceholder reports that resolution failed and this descriptor was
		// synthesized to keep the UI functional.
		IsPlaceholder bool
	}

	// Resolver resolves logical agent identifiers against the directory and
	// tracks the session's selected logical id. Safe for concurrent use;
	// concurrent selection updates are last-write-wins.
	Resolver struct {
		dir    remote.AgentDirectory
		log    telemetry.Logger
		tracer telemetry.Tracer

		mu       sync.Mutex
		selected string
		onChange func(logicalID string)
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// WithLogger overrides the resolver logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTracer overrides the resolver tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithOnChange registers a callback invoked after the selected logical id
// changes. The callback runs on the goroutine that triggered the change.
func WithOnChange(fn func(logicalID string)) Option {
	return func(r *Resolver) {
		r.onChange = fn
	}
}

// New constructs a Resolver over the given directory with the initial logical
// id selection.
func New(dir remote.AgentDirectory, logicalID string, opts ...Option) *Resolver {
	r := &Resolver{
		dir:      dir,
		log:      telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		selected: logicalID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Selected returns the current logical id selection.
func (r *Resolver) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Resolve resolves the logical id to a descriptor. It never returns an error:
// when the directory lookup fails the returned descriptor is a placeholder
// carrying the requested id as both identifier and display name, and the
// failure is logged (warning for not-found, error severity otherwise).
func (r *Resolver) Resolve(ctx context.Context, logicalID string) Descriptor {
	ctx, span := r.tracer.Start(ctx, "assistant.resolve")
	defer span.End()
	var d Descriptor
	if isUUIDShaped(logicalID) {
		d = r.resolveByID(ctx, logicalID)
	} else {
		d = r.resolveByGraph(ctx, logicalID)
	}
	if d.IsPlaceholder {
		span.SetStatus(codes.Error, "resolved to placeholder")
	}
	return d
}

// Select updates the selected logical id and resolves it. Intended for
// explicit agent switches by the user.
func (r *Resolver) Select(ctx context.Context, logicalID string) Descriptor {
	r.mu.Lock()
	changed := logicalID != r.selected
	r.selected = logicalID
	r.mu.Unlock()
	d := r.Resolve(ctx, logicalID)
	if changed && r.onChange != nil {
		r.onChange(logicalID)
	}
	return d
}

// ObserveThreadAgent reacts to a loaded thread revealing its backing agent.
// When logicalID is UUID-shaped it is first resolved to its graph name. The
// selection is updated and re-resolved only when the discovered name differs
// from the current selection, which debounces concurrent triggers and avoids
// redundant refetches. Returns the new descriptor and true when a switch
// happened.
func (r *Resolver) ObserveThreadAgent(ctx context.Context, logicalID string) (Descriptor, bool) {
	if logicalID == "" {
		return Descriptor{}, false
	}
	name := logicalID
	if isUUIDShaped(logicalID) {
		d := r.resolveByID(ctx, logicalID)
		if d.IsPlaceholder || d.GraphName == "" {
			return Descriptor{}, false
		}
		name = d.GraphName
	}
	r.mu.Lock()
	if name == r.selected {
		r.mu.Unlock()
		return Descriptor{}, false
	}
	r.selected = name
	r.mu.Unlock()
	d := r.Resolve(ctx, name)
	if r.onChange != nil {
		r.onChange(name)
	}
	return d, true
}

func (r *Resolver) resolveByID(ctx context.Context, agentID string) Descriptor {
	agent, err := r.dir.GetAgent(ctx, agentID)
	if err != nil {
		if remote.IsNotFound(err) {
			r.log.Warn(ctx, "agent not found, using placeholder", "agent_id", agentID)
		} else {
			r.log.Error(ctx, "agent lookup failed, using placeholder", "agent_id", agentID, "err", err.Error())
		}
		return placeholder(agentID)
	}
	return fromAgent(agent)
}

func (r *Resolver) resolveByGraph(ctx context.Context, graphName string) Descriptor {
	agents, err := r.dir.SearchAgents(ctx, graphName)
	if err != nil {
		if remote.IsNotFound(err) {
			r.log.Warn(ctx, "graph has no deployed agents, using placeholder", "graph", graphName)
		} else {
			r.log.Error(ctx, "agent search failed, using placeholder", "graph", graphName, "err", err.Error())
		}
		return placeholder(graphName)
	}
	for _, agent := range agents {
		if agent.IsSystemDefault() {
			return fromAgent(agent)
		}
	}
	r.log.Warn(ctx, "no system default agent for graph, using placeholder", "graph", graphName, "candidates", len(agents))
	return placeholder(graphName)
}

// placeholder synthesizes a descriptor for a logical id that could not be
// resolved. The id doubles as the display name so the UI stays usable.
func placeholder(logicalID string) Descriptor {
	d := Descriptor{
		ID:            logicalID,
		Name:          logicalID,
		IsPlaceholder: true,
	}
	if !isUUIDShaped(logicalID) {
		d.GraphName = logicalID
	}
	return d
}

func fromAgent(agent remote.Agent) Descriptor {
	name := agent.Name
	if name == "" {
		name = agent.GraphName
	}
	return Descriptor{
		ID:        agent.ID,
		GraphName: agent.GraphName,
		Name:      name,
		Config:    agent.Config,
		Metadata:  agent.Metadata,
	}
}

// isUUIDShaped reports whether the logical id is a concrete agent identifier
// rather than a symbolic graph name. Only the canonical hyphenated form
// counts; graph names never contain it.
func isUUIDShaped(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
