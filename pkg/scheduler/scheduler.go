package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stayware/eventbus/pkg/event"
)

// Dispatch hands a batch event to the delivery path when its slot fires.
type Dispatch func(ctx context.Context, e *event.Envelope) error

// Scheduler holds batch events until their slot instant and then hands
// them to the dispatch callback. Timers run on their own goroutines and
// never block or get blocked by stream consumption.
type Scheduler struct {
	dispatch Dispatch

	mu      sync.Mutex
	pending map[string]*time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

func New(dispatch Dispatch) *Scheduler {
	return &Scheduler{
		dispatch: dispatch,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Schedule registers the event for its next slot instant and returns
// that instant. Analytics events carry their slot in the payload; other
// batch events default to the daily slot.
func (s *Scheduler) Schedule(e *event.Envelope) (time.Time, error) {
	slot := event.ScheduleDaily
	if data, ok := e.Data.(*event.AnalyticsData); ok && data.Schedule != "" {
		slot = data.Schedule
	}

	runAt, err := NextRun(slot, time.Now())
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return time.Time{}, context.Canceled
	default:
	}

	// Re-scheduling the same event id replaces the earlier timer.
	if prev, ok := s.pending[e.EventID]; ok {
		prev.Stop()
	}
	s.pending[e.EventID] = time.AfterFunc(time.Until(runAt), func() {
		s.fire(e)
	})
	return runAt, nil
}

func (s *Scheduler) fire(e *event.Envelope) {
	s.mu.Lock()
	delete(s.pending, e.EventID)
	s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	if err := s.dispatch(context.Background(), e); err != nil {
		log.Printf("Failed to dispatch scheduled event %s: %v", e.EventID, err)
	}
}

// PendingCount reports how many events are waiting for their slot.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels all pending timers. Events not yet fired are dropped;
// producers re-register them on restart.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, timer := range s.pending {
			timer.Stop()
			delete(s.pending, id)
		}
	})
}
