// Package session is the composition root of threadview. A Session owns one
// live event stream subscription for the active thread and wires the
// assistant resolver, timeline correlator, interrupt resolver, and artifact
// sync together: user actions submit work to the runtime, stream events
// replace the local turn sequence wholesale, and the derived display model is
// recomputed on every event.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/threadview/artifacts"
	"goa.design/threadview/assistant"
	"goa.design/threadview/interrupts"
	"goa.design/threadview/remote"
	"goa.design/threadview/telemetry"
	"goa.design/threadview/timeline"
)

// defaultTaskTool is the tool name treated as a task-type step when deciding
// where to pause on ContinueRun.
const defaultTaskTool = "task"

// gotoResolved is the terminal state submitted by MarkResolved.
const gotoResolved = "end"

type (
	// File is one attachment handed to Send.
	File struct {
		// Name is the filename presented to the artifact store.
		Name string
		// Content is the raw file content.
		Content []byte
	}

	// Session coordinates one conversation thread against the runtime. Safe
	// for concurrent use: stream delivery and user actions run on different
	// goroutines.
	Session struct {
		client   remote.Client
		resolver *assistant.Resolver
		sync     *artifacts.Sync
		corr     *timeline.Correlator
		log      telemetry.Logger
		tracer   telemetry.Tracer
		taskTool string

		onChange         func()
		onHistoryChanged func()

		mu         sync.Mutex
		runConfig  remote.RunConfig
		threadID   string
		turns      []remote.Turn
		interrupt  any
		records    []timeline.Record
		resolution interrupts.Resolution
		desc       assistant.Descriptor
		sub        remote.Subscription

		notify sync.WaitGroup
	}

	// Option configures a Session.
	Option func(*Session)
)

// WithLogger overrides the session logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer overrides the session tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRunConfig sets the execution configuration merged into every submit.
func WithRunConfig(cfg remote.RunConfig) Option {
	return func(s *Session) {
		s.runConfig = cfg
	}
}

// WithThread sets the initial active thread. Leave unset for a session whose
// thread the runtime creates on first send.
func WithThread(threadID string) Option {
	return func(s *Session) {
		s.threadID = threadID
	}
}

// WithTaskTool overrides the tool name treated as a task-type step.
func WithTaskTool(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.taskTool = name
		}
	}
}

// WithOnChange registers a callback fired after the derived display model
// changes. The callback runs on the goroutine that triggered the change.
func WithOnChange(fn func()) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// WithOnHistoryChanged registers a callback fired after every mutating
// operation so thread listings can refresh without the session knowing about
// them. The callback is dispatched asynchronously and best-effort.
func WithOnHistoryChanged(fn func()) Option {
	return func(s *Session) {
		s.onHistoryChanged = fn
	}
}

// New constructs a Session over the given transport and collaborators.
func New(client remote.Client, resolver *assistant.Resolver, artsync *artifacts.Sync, opts ...Option) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: client is required")
	}
	if resolver == nil {
		return nil, errors.New("session: assistant resolver is required")
	}
	if artsync == nil {
		return nil, errors.New("session: artifact sync is required")
	}
	s := &Session{
		client:   client,
		resolver: resolver,
		sync:     artsync,
		log:      telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		taskTool: defaultTaskTool,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.corr = timeline.New(timeline.WithLogger(s.log))
	s.resolution = interrupts.Resolve(nil)
	return s, nil
}

// Start resolves the assistant and, when a thread is already active,
// subscribes to its event stream. Resolution never blocks the session: a
// placeholder descriptor keeps it usable when the directory is unreachable.
func (s *Session) Start(ctx context.Context) error {
	desc := s.resolver.Resolve(ctx, s.resolver.Selected())
	s.mu.Lock()
	s.desc = desc
	threadID := s.threadID
	s.mu.Unlock()
	if threadID == "" {
		return nil
	}
	return s.subscribe(ctx, threadID)
}

// Close tears down the live subscription and waits for dispatched
// notifications to settle. Artifact patches are independent; use the sync's
// own Wait for those.
func (s *Session) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	s.notify.Wait()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// Send submits a new human turn with optional attachments. Attachments upload
// first; an upload failure aborts the send only when there is no text to fall
// back to, otherwise the text-only portion proceeds and the failure is
// logged. The new turn is appended locally before the runtime acknowledges it
// so the UI reflects it immediately.
func (s *Session) Send(ctx context.Context, text string, files []File) error {
	ctx, span := s.tracer.Start(ctx, "session.send")
	defer span.End()

	var refs []artifacts.Ref
	var parts remote.Content
	if text != "" {
		parts = append(parts, remote.TextPart{Text: text})
	}
	for _, f := range files {
		res, err := s.sync.Upload(ctx, f.Name, f.Content)
		if err != nil {
			if text == "" {
				span.RecordError(err)
				span.SetStatus(codes.Error, "artifact upload failed")
				return fmt.Errorf("upload %s: %w", f.Name, err)
			}
			s.log.Warn(ctx, "artifact upload failed, sending text only",
				"filename", f.Name, "err", err.Error())
			continue
		}
		refs = append(refs, artifacts.NewRef(res))
		parts = append(parts, remote.ImageRefPart{URL: res.StorageURL, ArtifactID: res.ArtifactID})
	}
	if len(parts) == 0 {
		return errors.New("session: nothing to send")
	}

	turn := remote.Turn{
		ID:      uuid.NewString(),
		Role:    remote.RoleHuman,
		Content: parts,
	}

	s.mu.Lock()
	threadID := s.threadID
	cfg := s.runConfig
	s.turns = append(append([]remote.Turn(nil), s.turns...), turn)
	s.rederiveLocked(ctx)
	s.mu.Unlock()
	s.changed()

	if err := s.client.Submit(ctx, threadID, remote.SubmitRequest{
		Turns:  []remote.Turn{turn},
		Config: cfg,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return fmt.Errorf("submit: %w", err)
	}
	s.sync.Attach(ctx, threadID, refs)
	s.historyChanged(ctx)
	return nil
}

// Resume submits the response to the active interrupt and clears it once the
// runtime acknowledges the submission.
func (s *Session) Resume(ctx context.Context, value any) error {
	s.mu.Lock()
	threadID := s.threadID
	cfg := s.runConfig
	s.mu.Unlock()
	if err := s.client.Submit(ctx, threadID, remote.SubmitRequest{
		Config:  cfg,
		Control: remote.RunControl{Resume: value},
	}); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	s.mu.Lock()
	s.interrupt = nil
	s.rederiveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	s.historyChanged(ctx)
	return nil
}

// ContinueRun re-submits the run with no new turns. When the most recent step
// was a task-type tool call the run pauses before the next tool executes;
// otherwise it pauses after.
func (s *Session) ContinueRun(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	cfg := s.runConfig
	lastTask := s.lastStepIsTaskLocked()
	s.mu.Unlock()
	control := remote.RunControl{InterruptAfter: "*"}
	if lastTask {
		control = remote.RunControl{InterruptBefore: "*"}
	}
	if err := s.client.Submit(ctx, threadID, remote.SubmitRequest{
		Config:  cfg,
		Control: control,
	}); err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	s.historyChanged(ctx)
	return nil
}

// MarkResolved submits a terminal transition with no further processing.
func (s *Session) MarkResolved(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	cfg := s.runConfig
	s.mu.Unlock()
	if err := s.client.Submit(ctx, threadID, remote.SubmitRequest{
		Config:  cfg,
		Control: remote.RunControl{Goto: gotoResolved},
	}); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	s.historyChanged(ctx)
	return nil
}

// Stop cancels the in-flight run. Artifact uploads and metadata patches are
// independent best-effort operations and are not cancelled.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()
	if threadID == "" {
		return nil
	}
	return s.client.CancelRun(ctx, threadID)
}

// SetThread switches the session to another thread, discarding the current
// turn sequence and interrupt wholesale and replacing the subscription.
func (s *Session) SetThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.threadID = threadID
	s.turns = nil
	s.interrupt = nil
	s.rederiveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warn(ctx, "closing previous subscription failed", "err", err.Error())
		}
	}
	if threadID == "" {
		return nil
	}
	return s.subscribe(ctx, threadID)
}

// SetRunConfig replaces the execution configuration merged into subsequent
// submits.
func (s *Session) SetRunConfig(cfg remote.RunConfig) {
	s.mu.Lock()
	s.runConfig = cfg
	s.mu.Unlock()
}

// ThreadID returns the active thread identifier, empty before the runtime
// assigns one.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Records returns the current derived timeline.
func (s *Session) Records() []timeline.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Interrupt returns the decoded lookup maps for the active interrupt. The
// maps are empty, never nil, when no interrupt is active.
func (s *Session) Interrupt() interrupts.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolution
}

// Assistant returns the resolved agent descriptor.
func (s *Session) Assistant() assistant.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// HandleEvent processes one runtime stream event. Exposed so transports
// without a Subscription model (or tests) can feed events directly; the
// subscription created by Start and SetThread invokes it for every delivered
// event.
func (s *Session) HandleEvent(ctx context.Context, ev remote.ThreadEvent) {
	s.mu.Lock()
	assigned := ""
	if ev.ThreadID != "" && s.threadID == "" {
		s.threadID = ev.ThreadID
		assigned = ev.ThreadID
	}
	if ev.Turns != nil {
		// The batch is authoritative: replace, never merge by append.
		s.turns = ev.Turns
	}
	s.interrupt = ev.Interrupt
	s.rederiveLocked(ctx)
	s.mu.Unlock()
	s.changed()

	if assigned != "" {
		s.sync.ThreadAssigned(ctx, assigned)
	}
	if ev.AgentID != "" {
		if desc, switched := s.resolver.ObserveThreadAgent(ctx, ev.AgentID); switched {
			s.mu.Lock()
			s.desc = desc
			s.mu.Unlock()
			s.changed()
		}
	}
}

// subscribe opens the stream subscription for the thread.
func (s *Session) subscribe(ctx context.Context, threadID string) error {
	sub, err := s.client.Subscribe(ctx, threadID, func(ev remote.ThreadEvent) {
		s.HandleEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", threadID, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// rederiveLocked recomputes the display model from the current turn sequence
// and interrupt. Callers must hold s.mu.
func (s *Session) rederiveLocked(ctx context.Context) {
	s.resolution = interrupts.Resolve(s.interrupt)
	s.records = s.corr.Correlate(ctx, s.turns, s.interrupt != nil)
}

// lastStepIsTaskLocked reports whether the most recent derived tool call is a
// task-type call. Callers must hold s.mu.
func (s *Session) lastStepIsTaskLocked() bool {
	for i := len(s.records) - 1; i >= 0; i-- {
		calls := s.records[i].ToolCalls
		if len(calls) == 0 {
			continue
		}
		return calls[len(calls)-1].Name == s.taskTool
	}
	return false
}

// changed fires the display model callback.
func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// historyChanged dispatches the history notification without blocking the
// caller. Failures cannot occur here; panics in the callback are the
// listener's responsibility.
func (s *Session) historyChanged(context.Context) {
	if s.onHistoryChanged == nil {
		return
	}
	s.notify.Add(1)
	go func() {
		defer s.notify.Done()
		s.onHistoryChanged()
	}()
}
