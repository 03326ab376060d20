// Package lifecycle provides pub/sub delivery of run lifecycle notifications
// to zero or more observers. Delivery is fire-and-forget: a slow or failing
// subscriber never blocks or breaks the orchestrator loop.
package lifecycle

import (
	"encoding/json"
	"sync"
	"time"
)

// Actor identifies which role a notification originates from.
const (
	ActorSystem    = "system"
	ActorPlanner   = "planner"
	ActorNavigator = "navigator"
	ActorValidator = "validator"
)

// Lifecycle states carried by events.
const (
	TaskStart     = "TASK_START"
	TaskOK        = "TASK_OK"
	TaskFail      = "TASK_FAIL"
	TaskCancelled = "TASK_CANCELLED"
	TaskPaused    = "TASK_PAUSED"
	StepStart     = "STEP_START"
	StepOK        = "STEP_OK"
	StepFail      = "STEP_FAIL"
	PlanOK        = "PLAN_OK"
	PlanFail      = "PLAN_FAIL"
	ValidateOK    = "VALIDATE_OK"
	ValidateFail  = "VALIDATE_FAIL"
)

// Event is a single lifecycle notification for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Actor     string    `json:"actor"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run lifecycle events with a
// per-run ring buffer for replay and Last-Event-ID support.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	mirror      Mirror
}

const defaultCapacity = 256

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity sets the per-run replay ring capacity.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithMirror attaches a best-effort external mirror for published events.
func WithMirror(mir Mirror) Option {
	return func(m *Manager) { m.mirror = mir }
}

// NewManager creates an event manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    defaultCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe adds a subscriber channel for a run; the caller must drain it and
// call Unsubscribe when finished.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and sends
// it to all subscribers of the run without blocking.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	// Sends are non-blocking, so they stay under the lock; this keeps
	// Unsubscribe's close from racing an in-flight send.
	for ch := range m.subscribers[evt.RunID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow.
		}
	}
	mirror := m.mirror
	m.mu.Unlock()

	if mirror != nil {
		mirror.Append(evt)
	}
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity. The lock is held across the ring read; Publish mutates the same
// ring under the write lock.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
