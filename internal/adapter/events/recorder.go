package events

import (
	"context"
	"sync"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// Recorder keeps published events in memory. Used when no broker is
// configured and by tests.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]domain.Event, len(r.events))
	copy(copied, r.events)
	return copied
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ domain.EventPublisher = (*Recorder)(nil)
	_ domain.EventPublisher = (*KafkaPublisher)(nil)
)
