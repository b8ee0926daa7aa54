// Package artifacts synchronizes uploaded artifact references with thread
// metadata. Uploads and metadata patches are independent best-effort
// operations: they run on their own goroutines, never block or fail the send
// path, and converge the thread's persisted artifact list with what the client
// knows locally. Artifacts that finish uploading before the runtime has
// assigned a thread identifier are held in a pending set and flushed the
// moment the identifier is learned.
package artifacts

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/threadview/remote"
	"goa.design/threadview/telemetry"
)

// metadataKey is the thread metadata key holding the artifact list.
const metadataKey = "artifacts"

// defaultSettleDelay bounds how long a patch for an already-known thread waits
// before issuing, giving thread creation on the runtime side time to settle.
const defaultSettleDelay = 3 * time.Second

type (
	// Ref is a locally tracked artifact reference.
	Ref struct {
		ArtifactID  string `json:"artifact_id"`
		StoragePath string `json:"storage_path"`
	}

	// Sync coordinates artifact uploads and thread metadata patches. The
	// pending set is owned exclusively by the Sync for the session's lifetime
	// and is not persisted; references not flushed before the process exits
	// are lost, an accepted best-effort boundary.
	Sync struct {
		store  remote.ThreadStore
		up     remote.Uploader
		log    telemetry.Logger
		tracer telemetry.Tracer
		settle time.Duration

		mu       sync.Mutex
		pending  []Ref
		assigned string

		// patchMu serializes read-merge-write cycles so concurrent dispatches
		// cannot interleave their reads and clobber each other's writes.
		patchMu  sync.Mutex
		inflight sync.WaitGroup
	}

	// Option configures a Sync.
	Option func(*Sync)
)

// WithLogger overrides the sync logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTracer overrides the sync tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(s *Sync) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSettleDelay overrides the delay applied before patching a thread whose
// identifier was already known at attach time. Zero disables the delay.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Sync) {
		s.settle = d
	}
}

// New constructs a Sync over the given thread store and uploader.
func New(store remote.ThreadStore, up remote.Uploader, opts ...Option) *Sync {
	s := &Sync{
		store:  store,
		up:     up,
		log:    telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
		settle: defaultSettleDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Upload stores the artifact and returns the store's result. Unlike the
// patch path, upload failures are surfaced to the caller: the session decides
// whether the send can proceed without the artifact.
func (s *Sync) Upload(ctx context.Context, filename string, content []byte) (remote.UploadResult, error) {
	return s.up.Upload(ctx, filename, content)
}

// NewRef builds the metadata reference recorded for an uploaded artifact.
func NewRef(res remote.UploadResult) Ref {
	return Ref{ArtifactID: res.ArtifactID, StoragePath: res.StoragePath}
}

// Attach associates the references with the thread. When the thread
// identifier is already known the metadata patch is issued asynchronously
// after the settle delay; failures are logged and swallowed. When no thread
// exists yet the references join the pending set until ThreadAssigned fires.
// An empty threadID after assignment has already fired (the caller raced the
// assignment event) falls through to the assigned thread so the references
// are never stranded in a pending set nothing will flush.
func (s *Sync) Attach(ctx context.Context, threadID string, refs []Ref) {
	if len(refs) == 0 {
		return
	}
	if threadID == "" {
		s.mu.Lock()
		threadID = s.assigned
		if threadID == "" {
			s.pending = append(s.pending, refs...)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
	s.dispatch(ctx, threadID, refs, s.settle)
}

// ThreadAssigned reacts to the runtime assigning a thread identifier: all
// pending references flush through one patch and the pending set empties. The
// set is cleared on dispatch, not on patch completion, so a second assignment
// event arriving before the patch resolves cannot double-flush.
func (s *Sync) ThreadAssigned(ctx context.Context, threadID string) {
	if threadID == "" {
		return
	}
	s.mu.Lock()
	s.assigned = threadID
	refs := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(refs) == 0 {
		return
	}
	s.dispatch(ctx, threadID, refs, 0)
}

// Pending returns a copy of the pending reference set.
func (s *Sync) Pending() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ref(nil), s.pending...)
}

// Wait blocks until all dispatched patches have completed or failed. Intended
// for orderly shutdown and tests; the send path never calls it.
func (s *Sync) Wait() {
	s.inflight.Wait()
}

// dispatch issues the patch on its own goroutine. The operation is detached
// from the caller's cancellation: stream teardown must not cancel metadata
// convergence.
func (s *Sync) dispatch(ctx context.Context, threadID string, refs []Ref, delay time.Duration) {
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			<-timer.C
		}
		s.patch(ctx, threadID, refs)
	}()
}

// patch converges the thread metadata with the new references: read the
// current metadata, merge by artifact id, write back the full object. The
// backing store replaces metadata wholesale, so writing anything less than
// the merged object would clobber concurrent sends.
func (s *Sync) patch(ctx context.Context, threadID string, refs []Ref) {
	s.patchMu.Lock()
	defer s.patchMu.Unlock()
	ctx, span := s.tracer.Start(ctx, "artifacts.patch")
	defer span.End()

	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread fetch failed")
		s.log.Warn(ctx, "artifact patch skipped, thread fetch failed",
			"thread_id", threadID, "err", err.Error())
		return
	}
	merged := MergeRefs(decodeRefs(thread.Metadata[metadataKey]), refs)

	metadata := make(map[string]any, len(thread.Metadata)+1)
	for k, v := range thread.Metadata {
		metadata[k] = v
	}
	metadata[metadataKey] = encodeRefs(merged)

	if err := s.store.PatchThreadMetadata(ctx, threadID, metadata); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metadata patch failed")
		s.log.Warn(ctx, "artifact metadata patch failed",
			"thread_id", threadID, "artifacts", len(refs), "err", err.Error())
		return
	}
	s.log.Debug(ctx, "artifact metadata patched",
		"thread_id", threadID, "artifacts", len(merged))
}

// MergeRefs merges new references into existing ones keyed by artifact id.
// Existing order is preserved, same-id entries are overridden by the new
// value, and genuinely new entries append in order. Merging is idempotent:
// applying the same news twice yields the same result as once.
func MergeRefs(existing, news []Ref) []Ref {
	out := make([]Ref, 0, len(existing)+len(news))
	index := make(map[string]int, len(existing))
	for _, ref := range existing {
		if ref.ArtifactID == "" {
			continue
		}
		if i, ok := index[ref.ArtifactID]; ok {
			out[i] = ref
			continue
		}
		index[ref.ArtifactID] = len(out)
		out = append(out, ref)
	}
	for _, ref := range news {
		if ref.ArtifactID == "" {
			continue
		}
		if i, ok := index[ref.ArtifactID]; ok {
			out[i] = ref
			continue
		}
		index[ref.ArtifactID] = len(out)
		out = append(out, ref)
	}
	return out
}

// decodeRefs extracts the artifact list from a metadata value, tolerating
// absent or malformed entries.
func decodeRefs(v any) []Ref {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	refs := make([]Ref, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := obj["artifact_id"].(string)
		if id == "" {
			continue
		}
		path, _ := obj["storage_path"].(string)
		refs = append(refs, Ref{ArtifactID: id, StoragePath: path})
	}
	return refs
}

// encodeRefs renders references in the generic shape metadata round-trips
// through JSON, so subsequent reads decode what was written.
func encodeRefs(refs []Ref) []any {
	out := make([]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]any{
			"artifact_id":  ref.ArtifactID,
			"storage_path": ref.StoragePath,
		})
	}
	return out
}
