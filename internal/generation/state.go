package generation

import (
	"errors"
	"sync"
	"time"
)

// Phase is where a page is in the submit/track cycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseExecuting  Phase = "executing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

var (
	// ErrBusy rejects a new job while one is in flight or a failure is shown.
	ErrBusy = errors.New("generation: a job is already in progress")
	// ErrClosed rejects work on a page that was torn down.
	ErrClosed = errors.New("generation: page closed")
)

// State is a snapshot of one page's generation status.
type State struct {
	Phase          Phase     `json:"phase"`
	IsGenerating   bool      `json:"is_generating"`
	Progress       int       `json:"progress"`
	Stage          string    `json:"stage,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	Artifacts      []string  `json:"artifacts,omitempty"`
	Error          string    `json:"error,omitempty"`
	QueueRemaining int       `json:"queue_remaining"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s State) clone() State {
	if s.Artifacts != nil {
		s.Artifacts = append([]string(nil), s.Artifacts...)
	}
	return s
}

// Holder owns the generation state of one page. Every mutation goes through
// it; after Close no mutation is applied and no observer is called.
type Holder struct {
	mu       sync.Mutex
	state    State
	closed   bool
	resolved bool
	observer func(State)
	subs     map[int]chan State
	nextSub  int
	now      func() time.Time
}

// NewHolder returns an idle holder. observer, if set, is called with every
// applied change while the holder lock is held, so it must not call back
// into the holder.
func NewHolder(observer func(State)) *Holder {
	h := &Holder{observer: observer, subs: map[int]chan State{}, now: time.Now}
	h.state = State{Phase: PhaseIdle, UpdatedAt: h.now()}
	return h
}

// Snapshot returns the current state.
func (h *Holder) Snapshot() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.clone()
}

// Subscribe streams state changes, starting with the current state. Slow
// subscribers lose intermediate states, never the latest one.
func (h *Holder) Subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan State, 1)
	ch <- h.state.clone()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// apply runs mutate under the lock and publishes the result when it reports
// a change.
func (h *Holder) apply(mutate func(s *State) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if !mutate(&h.state) {
		return false
	}
	h.state.UpdatedAt = h.now()
	snap := h.state.clone()
	if h.observer != nil {
		h.observer(snap)
	}
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap.clone()
	}
	return true
}

// Begin moves an idle or completed page to Submitting. It fails with ErrBusy
// while a job is in flight or a failure has not been dismissed.
func (h *Holder) Begin() error {
	err := ErrBusy
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	h.apply(func(s *State) bool {
		if s.Phase != PhaseIdle && s.Phase != PhaseCompleted {
			return false
		}
		h.resolved = false
		queue := s.QueueRemaining
		*s = State{Phase: PhaseSubmitting, IsGenerating: true, Stage: "Submitting...", QueueRemaining: queue}
		err = nil
		return true
	})
	return err
}

// Attach moves an idle or completed page straight to Executing for a job
// submitted earlier, such as one found in the last-job slot.
func (h *Holder) Attach(jobID string) error {
	err := ErrBusy
	h.apply(func(s *State) bool {
		if s.Phase != PhaseIdle && s.Phase != PhaseCompleted {
			return false
		}
		h.resolved = false
		queue := s.QueueRemaining
		*s = State{Phase: PhaseExecuting, IsGenerating: true, JobID: jobID, Stage: "Waiting for result...", QueueRemaining: queue}
		err = nil
		return true
	})
	return err
}

// Submitted records the engine's job id.
func (h *Holder) Submitted(jobID string, seed int64) bool {
	return h.apply(func(s *State) bool {
		if s.Phase != PhaseSubmitting {
			return false
		}
		s.Phase = PhaseExecuting
		s.JobID = jobID
		s.Seed = seed
		s.Stage = "Queued..."
		return true
	})
}

// SetProgress raises the progress percentage. It never moves backwards
// within a job.
func (h *Holder) SetProgress(pct int) bool {
	if pct > 100 {
		pct = 100
	}
	return h.apply(func(s *State) bool {
		if s.Phase != PhaseExecuting || pct <= s.Progress {
			return false
		}
		s.Progress = pct
		return true
	})
}

// SetStage sets the human-readable stage label.
func (h *Holder) SetStage(label string) bool {
	return h.apply(func(s *State) bool {
		if s.Phase != PhaseExecuting || s.Stage == label {
			return false
		}
		s.Stage = label
		return true
	})
}

// SetQueue records the engine's remaining queue depth.
func (h *Holder) SetQueue(n int) bool {
	return h.apply(func(s *State) bool {
		if s.QueueRemaining == n {
			return false
		}
		s.QueueRemaining = n
		return true
	})
}

// Complete publishes the artifacts of the current job. Only the first call
// per job has an effect.
func (h *Holder) Complete(artifacts []string) bool {
	return h.apply(func(s *State) bool {
		if h.resolved || (s.Phase != PhaseExecuting && s.Phase != PhaseSubmitting) {
			return false
		}
		h.resolved = true
		s.Phase = PhaseCompleted
		s.IsGenerating = false
		s.Progress = 100
		s.Stage = ""
		s.Artifacts = append([]string(nil), artifacts...)
		s.Error = ""
		return true
	})
}

// Fail ends the current job with a short user-facing message.
func (h *Holder) Fail(msg string) bool {
	return h.apply(func(s *State) bool {
		if h.resolved || (s.Phase != PhaseExecuting && s.Phase != PhaseSubmitting) {
			return false
		}
		h.resolved = true
		s.Phase = PhaseFailed
		s.IsGenerating = false
		s.Stage = ""
		s.Error = msg
		return true
	})
}

// Dismiss returns a finished page to Idle, keeping the last artifacts.
func (h *Holder) Dismiss() bool {
	return h.apply(func(s *State) bool {
		if s.Phase != PhaseCompleted && s.Phase != PhaseFailed {
			return false
		}
		s.Phase = PhaseIdle
		s.Progress = 0
		s.Error = ""
		return true
	})
}

// Close tears the holder down. Later mutations are ignored and subscribers
// are released.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Closed reports whether Close was called.
func (h *Holder) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
