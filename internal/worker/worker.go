// Package worker implements the per-queue execution loops. Exactly one worker
// runs per queue kind; both serialize their remote calls through a shared
// execution lock and a shared throttler.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fewk2/panbutler/internal/domain"
)

const (
	// idleInterval is the fallback poll tick when the queue has no pending
	// task and no wake token arrives.
	idleInterval = 500 * time.Millisecond
	// pauseCheckInterval is how often a paused worker rechecks its flags.
	pauseCheckInterval = 100 * time.Millisecond

	eventBuffer = 64
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is emitted on a worker's channel once per task transition. The
// orchestrator drains the channel, which keeps at most one notification in
// flight per task.
type Event struct {
	Kind    EventKind
	Index   int
	Status  domain.TaskStatus
	Message string

	// TransferTask is a snapshot of the completed transfer, set on
	// EventCompleted from the transfer worker so the orchestrator can chain
	// an auto-share without touching live queue state.
	TransferTask *domain.TransferTask

	// ShareLink and SharePassword are set on EventCompleted from the share
	// worker.
	ShareLink     string
	SharePassword string
}

// state holds the cooperative lifecycle flags shared by both worker kinds.
// Stop and pause are observed between tasks only; in-flight work completes.
type state struct {
	running  atomic.Bool
	paused   atomic.Bool
	stopc    chan struct{}
	stopOnce sync.Once
}

func newState() state {
	return state{stopc: make(chan struct{})}
}

func (s *state) Pause()          { s.paused.Store(true) }
func (s *state) Resume()         { s.paused.Store(false) }
func (s *state) IsRunning() bool { return s.running.Load() }
func (s *state) IsPaused() bool  { return s.paused.Load() }

func (s *state) Stop() {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stopc) })
}

// idleWait blocks until the duration elapses, a wake token arrives, or the
// worker is stopped. A nil wake channel blocks forever in the select.
func (s *state) idleWait(d time.Duration, wake <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-wake:
	case <-s.stopc:
	}
}

// callContext applies the configured remote-call deadline. Zero means no
// deadline, matching the service's historical stall-forever behavior.
func callContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func statusPtr(s domain.TaskStatus) *domain.TaskStatus { return &s }
func strPtr(s string) *string                          { return &s }
