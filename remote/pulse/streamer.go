package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/threadview/remote"
	"goa.design/threadview/telemetry"
)

type (
	// StreamerOptions configures a Pulse-backed remote.Streamer.
	StreamerOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "threadview".
		SinkName string
		// StreamName derives the Pulse stream name from a thread id. Defaults
		// to "thread/<threadID>".
		StreamName func(threadID string) string
		// Logger reports decode failures. Defaults to the no-op logger.
		Logger telemetry.Logger
	}

	// Streamer consumes per-thread Pulse streams and delivers decoded thread
	// events to the session handler. Decode failures are logged and skipped;
	// they never terminate the subscription.
	Streamer struct {
		client     Client
		sinkName   string
		streamName func(string) string
		log        telemetry.Logger
	}

	// envelope is the wire form of one published thread event.
	envelope struct {
		// ThreadID is the owning thread.
		ThreadID string `json:"thread_id"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Event is the thread event payload.
		Event json.RawMessage `json:"event"`
	}

	subscription struct {
		cancel context.CancelFunc
		sink   Sink
	}
)

// NewStreamer constructs a Pulse-backed streamer. The Client field in opts is
// required; the rest default to sensible values.
func NewStreamer(opts StreamerOptions) (*Streamer, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Streamer{
		client:     opts.Client,
		sinkName:   opts.SinkName,
		streamName: opts.StreamName,
		log:        opts.Logger,
	}
	if s.sinkName == "" {
		s.sinkName = "threadview"
	}
	if s.streamName == nil {
		s.streamName = func(threadID string) string { return "thread/" + threadID }
	}
	if s.log == nil {
		s.log = telemetry.NewNoopLogger()
	}
	return s, nil
}

// Ensure Streamer implements remote.Streamer.
var _ remote.Streamer = (*Streamer)(nil)

// Subscribe opens a consumer group on the thread's stream and delivers each
// decoded event to h from a dedicated goroutine. Close the returned
// subscription to stop consumption.
func (s *Streamer) Subscribe(ctx context.Context, threadID string, h remote.Handler) (remote.Subscription, error) {
	if threadID == "" {
		return nil, errors.New("thread id is required")
	}
	if h == nil {
		return nil, errors.New("handler is required")
	}
	str, err := s.client.Stream(s.streamName(threadID))
	if err != nil {
		return nil, err
	}
	sink, err := str.NewSink(ctx, s.sinkName)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.consume(runCtx, sink, h)
	return &subscription{cancel: cancel, sink: sink}, nil
}

// consume reads envelopes from the sink, decodes them, and hands them to the
// handler. Every event is acked, including ones that fail to decode, so a
// poison entry cannot wedge the consumer group.
func (s *Streamer) consume(ctx context.Context, sink Sink, h remote.Handler) {
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			event, err := decodeEnvelope(evt.Payload)
			if err != nil {
				s.log.Warn(ctx, "skipping undecodable stream event",
					"event_id", evt.ID, "err", err.Error())
			} else {
				h(event)
			}
			if err := sink.Ack(ctx, evt); err != nil {
				s.log.Warn(ctx, "stream ack failed", "event_id", evt.ID, "err", err.Error())
			}
		}
	}
}

// Close stops consumption and releases the sink.
func (sub *subscription) Close() error {
	sub.cancel()
	sub.sink.Close(context.Background())
	return nil
}

// decodeEnvelope deserializes one published envelope into a thread event.
func decodeEnvelope(payload []byte) (remote.ThreadEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return remote.ThreadEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	var event remote.ThreadEvent
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, &event); err != nil {
			return remote.ThreadEvent{}, fmt.Errorf("decode thread event: %w", err)
		}
	}
	if event.ThreadID == "" {
		event.ThreadID = env.ThreadID
	}
	return event, nil
}
