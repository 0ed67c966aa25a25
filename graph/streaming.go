package graph

import "context"

// StreamEvent is one observation of a running invocation: either a completed
// step (one per snapshot written) or a terminal error.
type StreamEvent struct {
	ThreadID   string
	SnapshotID string
	Step       int
	Node       string
	Values     State
	Next       []string

	// Err is set on the final event if the invocation failed. No further
	// events follow it.
	Err error
}

// Stream runs the graph like Invoke but yields one event per completed step
// on the returned channel instead of only the final state. The channel is
// closed when the invocation finishes; if it failed, the last event carries
// the error. Streaming is an observation channel, persistence and state
// semantics are identical to Invoke.
func (r *Runnable) Stream(ctx context.Context, threadID string, initial State) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		emit := func(ev StreamEvent) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := r.invoke(ctx, threadID, initial, emit); err != nil {
			emit(StreamEvent{ThreadID: threadID, Err: err})
		}
	}()
	return ch
}

// StreamFrom is the streaming variant of ResumeFrom.
func (r *Runnable) StreamFrom(ctx context.Context, threadID, snapshotID string) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		emit := func(ev StreamEvent) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := r.resumeFrom(ctx, threadID, snapshotID, emit); err != nil {
			emit(StreamEvent{ThreadID: threadID, Err: err})
		}
	}()
	return ch
}
