package hlsaudio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// session is one transcoder run starting at a given segment. Its completed
// set carries over to the session that replaces it.
type session struct {
	id           string
	startSegment int
	lastSegment  int
	createdAt    time.Time

	mu               sync.RWMutex
	highestCompleted int
	completed        map[int]struct{}
	cancel           context.CancelFunc // nil once the job has exited
	cancelled        bool
	outcome          string

	done chan struct{}
}

func newSession(startSegment, lastSegment int, inherited *session) *session {
	s := &session{
		id:               uuid.NewString(),
		startSegment:     startSegment,
		lastSegment:      lastSegment,
		createdAt:        time.Now(),
		highestCompleted: -1,
		completed:        map[int]struct{}{},
		done:             make(chan struct{}),
	}

	if inherited != nil {
		inherited.mu.RLock()
		for index := range inherited.completed {
			s.completed[index] = struct{}{}
		}
		inherited.mu.RUnlock()
	}

	return s
}

// advance records that every segment from startSegment up to index is
// finalized. It never moves backwards.
func (s *session) advance(index int) {
	if index > s.lastSegment {
		index = s.lastSegment
	}
	if index < s.startSegment {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index <= s.highestCompleted {
		return
	}

	from := s.startSegment
	if s.highestCompleted >= from {
		from = s.highestCompleted + 1
	}

	for i := from; i <= index; i++ {
		s.completed[i] = struct{}{}
	}
	s.highestCompleted = index
}

// finish marks everything up to the last segment as finalized.
func (s *session) finish() {
	s.advance(s.lastSegment)
}

func (s *session) isCompleted(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.completed[index]
	return ok
}

func (s *session) highest() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.highestCompleted
}

// firstMissing returns the lowest index not yet finalized, or -1.
func (s *session) firstMissing() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i <= s.lastSegment; i++ {
		if _, ok := s.completed[i]; !ok {
			return i
		}
	}
	return -1
}

func (s *session) completedIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices := make([]int, 0, len(s.completed))
	for index := range s.completed {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

func (s *session) attach(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *session) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cancel != nil
}

func (s *session) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cancelled
}

// stop requests cancellation of the job and returns a channel closed once
// the job has fully exited.
func (s *session) stop() <-chan struct{} {
	s.mu.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.done
}

// exit clears the cancellation handle, it must be called exactly once.
func (s *session) exit(outcome string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.outcome = outcome
	s.mu.Unlock()

	close(s.done)
}

func (s *session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) getOutcome() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.outcome
}
