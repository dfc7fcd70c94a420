package nats

import (
	"context"
	"sync"
)

// RecordingPublisher keeps published events in memory. It stands in for
// JetStream in tests and when events are only inspected locally.
type RecordingPublisher struct {
	mu         sync.Mutex
	properties []*PropertyEvent
	actions    []*ActionEvent
	seen       map[string]bool
	err        error
	closed     bool
}

// NewRecordingPublisher returns an empty RecordingPublisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{seen: make(map[string]bool)}
}

// FailWith makes every later publish return err; nil restores success.
func (r *RecordingPublisher) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// PublishProperty records event once per message id, as the stream would.
func (r *RecordingPublisher) PublishProperty(ctx context.Context, event *PropertyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if !r.seen[event.MsgID()] {
		r.seen[event.MsgID()] = true
		r.properties = append(r.properties, event)
	}
	return nil
}

// PublishAction records event once per message id.
func (r *RecordingPublisher) PublishAction(ctx context.Context, event *ActionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if !r.seen[event.MsgID()] {
		r.seen[event.MsgID()] = true
		r.actions = append(r.actions, event)
	}
	return nil
}

func (r *RecordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// PropertyEvents returns a copy of the recorded snapshot events.
func (r *RecordingPublisher) PropertyEvents() []*PropertyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*PropertyEvent(nil), r.properties...)
}

// ActionEvents returns a copy of the recorded action events.
func (r *RecordingPublisher) ActionEvents() []*ActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ActionEvent(nil), r.actions...)
}

func (r *RecordingPublisher) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
