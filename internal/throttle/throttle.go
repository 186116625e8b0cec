// Package throttle paces remote calls and reacts to failure signals from the
// remote service.
package throttle

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
)

// Throttler bounds the remote call rate with a jittered delay plus a sliding
// call counter, and backs off on consecutive failures. Both workers share one
// instance, so all methods are safe for concurrent use.
type Throttler struct {
	jitterMin         time.Duration
	jitterMax         time.Duration
	opsPerWindow      int
	window            time.Duration
	windowRest        time.Duration
	maxConsecFailures int
	pauseOnFailure    time.Duration
	cooldownOnOverrun time.Duration

	mu          sync.Mutex
	opsInWindow int
	windowStart time.Time
	consecFail  int

	// sleep is injectable so tests can observe pauses instead of waiting them out
	sleep func(time.Duration)
}

func New(cfg configs.ThrottleConfig) *Throttler {
	return &Throttler{
		jitterMin:         time.Duration(cfg.JitterMsMin) * time.Millisecond,
		jitterMax:         time.Duration(cfg.JitterMsMax) * time.Millisecond,
		opsPerWindow:      cfg.OpsPerWindow,
		window:            time.Duration(cfg.WindowSec) * time.Second,
		windowRest:        time.Duration(cfg.WindowRestSec) * time.Second,
		maxConsecFailures: cfg.MaxConsecutiveFailures,
		pauseOnFailure:    time.Duration(cfg.PauseSecOnFailure) * time.Second,
		cooldownOnOverrun: time.Duration(cfg.CooldownOnOverrunSec) * time.Second,
		windowStart:       time.Now(),
		sleep:             time.Sleep,
	}
}

// NewWithSleep builds a Throttler whose pauses go through sleep instead of
// time.Sleep, so callers can observe cooldowns without waiting them out.
func NewWithSleep(cfg configs.ThrottleConfig, sleep func(time.Duration)) *Throttler {
	t := New(cfg)
	t.sleep = sleep
	return t
}

// Pace must be called immediately before every remote call. It enforces the
// sliding call window, then sleeps a random jitter so the request cadence
// never looks mechanical.
func (t *Throttler) Pace() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.windowStart) > t.window {
		t.windowStart = now
		t.opsInWindow = 0
	}
	if t.opsInWindow >= t.opsPerWindow {
		t.sleep(t.windowRest)
		t.windowStart = time.Now()
		t.opsInWindow = 0
	}

	t.sleep(t.jitterDelay())
	t.opsInWindow++
}

func (t *Throttler) jitterDelay() time.Duration {
	if t.jitterMax <= t.jitterMin {
		return t.jitterMin
	}
	return t.jitterMin + time.Duration(rand.Int63n(int64(t.jitterMax-t.jitterMin)))
}

// OnSuccess resets the consecutive failure streak.
func (t *Throttler) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecFail = 0
}

// OnFailure records a transient remote failure. The overrun code gets an
// extra fixed cooldown regardless of the streak; reaching the streak
// threshold pauses and resets the streak.
func (t *Throttler) OnFailure(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecFail++
	if code == domain.CodeTooManyAccesses {
		t.sleep(t.cooldownOnOverrun)
	}
	if t.consecFail >= t.maxConsecFailures {
		t.sleep(t.pauseOnFailure)
		t.consecFail = 0
	}
}

// OnOverrun applies the fixed cooldown for the too-many-accesses code without
// touching the failure streak. Workers call it when that code ends a task,
// since the skip path bypasses OnFailure.
func (t *Throttler) OnOverrun() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sleep(t.cooldownOnOverrun)
}

// ConsecutiveFailures reports the current failure streak.
func (t *Throttler) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecFail
}
