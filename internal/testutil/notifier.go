package testutil

import (
	"context"
	"sync"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
)

// RecordingNotifier captures lifecycle events for assertions.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	Err    error
}

func (r *RecordingNotifier) Notify(_ context.Context, ev domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

func (r *RecordingNotifier) Events() []domain.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LifecycleEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *RecordingNotifier) Types() []domain.PaymentEventType {
	var out []domain.PaymentEventType
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}
