package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/queue"
	"github.com/fewk2/panbutler/internal/throttle"
	"github.com/fewk2/panbutler/pkg/sharelink"
)

// ShareWorker drains the share queue with the same outer state machine as the
// transfer worker.
//
// Skip classification reuses the transfer skip set. The remote service's
// published table centers on transfer outcomes, so share-specific codes
// deserve dedicated test coverage; see the package tests.
type ShareWorker struct {
	queue       *queue.Queue[*domain.ShareTask]
	client      domain.RemoteClient
	throttler   *throttle.Throttler
	execLock    sync.Locker
	store       domain.TaskStore
	account     string
	callTimeout time.Duration
	events      chan Event
	state
}

func NewShareWorker(
	q *queue.Queue[*domain.ShareTask],
	client domain.RemoteClient,
	throttler *throttle.Throttler,
	execLock sync.Locker,
	store domain.TaskStore,
	account string,
	callTimeout time.Duration,
) *ShareWorker {
	return &ShareWorker{
		queue:       q,
		client:      client,
		throttler:   throttler,
		execLock:    execLock,
		store:       store,
		account:     account,
		callTimeout: callTimeout,
		events:      make(chan Event, eventBuffer),
		state:       newState(),
	}
}

// Events is closed when the worker loop exits.
func (w *ShareWorker) Events() <-chan Event {
	return w.events
}

func (w *ShareWorker) Start() {
	w.running.Store(true)
	go w.run()
}

func (w *ShareWorker) run() {
	defer close(w.events)
	for w.running.Load() {
		if w.paused.Load() {
			w.idleWait(pauseCheckInterval, nil)
			continue
		}
		task, idx, ok := w.queue.ClaimPending()
		if !ok {
			w.idleWait(idleInterval, w.queue.Wake())
			continue
		}
		w.process(task, idx)
	}
}

func (w *ShareWorker) process(task *domain.ShareTask, idx int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("share panic: %v (file: %s)", r, task.FileName)
			w.finish(task, idx, domain.Failed, msg, msg)
		}
	}()

	w.persist(task, domain.ShareTaskChanges{Status: statusPtr(domain.Running)})
	w.emit(Event{Kind: EventProgress, Index: idx, Status: domain.Running})

	link, password, err := w.execute(task)

	var rerr *domain.RemoteError
	switch {
	case err == nil:
		w.throttler.OnSuccess()
		w.queue.Do(func() {
			task.Status = domain.Completed
			task.ErrorMessage = ""
			task.ShareLink = link
			task.SharePassword = password
		})
		w.persist(task, domain.ShareTaskChanges{
			Status:        statusPtr(domain.Completed),
			ShareLink:     strPtr(link),
			SharePassword: strPtr(password),
		})
		w.emit(Event{
			Kind:          EventCompleted,
			Index:         idx,
			Status:        domain.Completed,
			Message:       link,
			ShareLink:     link,
			SharePassword: password,
		})
	case errors.As(err, &rerr):
		msg := fmt.Sprintf("share failed: %v", rerr)
		if domain.SkipOnCode(rerr.Code) {
			if rerr.Code == domain.CodeTooManyAccesses {
				w.throttler.OnOverrun()
			}
			w.finish(task, idx, domain.Skipped, msg, "skipped - "+msg)
		} else {
			w.throttler.OnFailure(rerr.Code)
			w.finish(task, idx, domain.Failed, msg, msg)
		}
	default:
		msg := fmt.Sprintf("share error: %v (file: %s)", err, task.FileName)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("share timed out after %s (file: %s)", w.callTimeout, task.FileName)
		}
		w.finish(task, idx, domain.Failed, msg, msg)
	}
}

func (w *ShareWorker) execute(task *domain.ShareTask) (string, string, error) {
	if task.FsID == 0 {
		return "", "", errors.New("share task has no file id")
	}

	var password string
	switch task.PasswordMode {
	case domain.PasswordFixed:
		password = task.SharePassword
	case domain.PasswordRandom:
		password = sharelink.GenerateRandomPassword()
	default:
		// open share, no access code
	}

	ctx, cancel := callContext(w.callTimeout)
	defer cancel()

	w.execLock.Lock()
	defer w.execLock.Unlock()

	w.throttler.Pace()
	link, err := w.client.CreateShare(ctx, task.FsID, task.ExpiryDays, password)
	return link, password, err
}

func (w *ShareWorker) finish(task *domain.ShareTask, idx int, status domain.TaskStatus, errMsg, eventMsg string) {
	w.queue.Do(func() {
		task.Status = status
		task.ErrorMessage = errMsg
	})
	w.persist(task, domain.ShareTaskChanges{
		Status:       statusPtr(status),
		ErrorMessage: strPtr(errMsg),
	})
	w.emit(Event{Kind: EventFailed, Index: idx, Status: status, Message: eventMsg})
}

func (w *ShareWorker) persist(task *domain.ShareTask, changes domain.ShareTaskChanges) {
	if w.store == nil || task.ID == 0 {
		return
	}
	if err := w.store.UpdateShareTask(context.Background(), task.ID, changes); err != nil {
		slog.Error("failed to persist share task update", "account", w.account, "task_id", task.ID, "error", err)
	}
}

func (w *ShareWorker) emit(e Event) {
	w.events <- e
}
