package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
	"github.com/fewk2/panbutler/internal/queue"
	"github.com/fewk2/panbutler/internal/throttle"
	"github.com/fewk2/panbutler/pkg/sharelink"
)

// TransferWorker drains the transfer queue: oldest pending task first, one at
// a time, each remote call sequence under the shared execution lock.
type TransferWorker struct {
	queue       *queue.Queue[*domain.TransferTask]
	client      domain.RemoteClient
	throttler   *throttle.Throttler
	execLock    sync.Locker
	store       domain.TaskStore
	account     string
	callTimeout time.Duration
	events      chan Event
	state
}

func NewTransferWorker(
	q *queue.Queue[*domain.TransferTask],
	client domain.RemoteClient,
	throttler *throttle.Throttler,
	execLock sync.Locker,
	store domain.TaskStore,
	account string,
	callTimeout time.Duration,
) *TransferWorker {
	return &TransferWorker{
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
func (w *TransferWorker) Events() <-chan Event {
	return w.events
}

func (w *TransferWorker) Start() {
	w.running.Store(true)
	go w.run()
}

func (w *TransferWorker) run() {
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

func (w *TransferWorker) process(task *domain.TransferTask, idx int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("transfer panic: %v (link: %s, target: %s)", r, task.ShareLink, task.TargetPath)
			w.finish(task, idx, domain.Failed, msg, msg)
		}
	}()

	w.persist(task, domain.TransferTaskChanges{Status: statusPtr(domain.Running)})
	w.emit(Event{Kind: EventProgress, Index: idx, Status: domain.Running})

	filename, err := w.execute(task)

	var rerr *domain.RemoteError
	switch {
	case err == nil:
		w.throttler.OnSuccess()
		var snapshot *domain.TransferTask
		w.queue.Do(func() {
			task.Status = domain.Completed
			task.ErrorMessage = ""
			if filename != "" {
				task.Filename = filename
			}
			snapshot = task.Clone()
		})
		changes := domain.TransferTaskChanges{
			Status:     statusPtr(domain.Completed),
			TargetPath: strPtr(snapshot.TargetPath),
		}
		if filename != "" {
			changes.Filename = strPtr(filename)
		}
		w.persist(task, changes)
		w.emit(Event{
			Kind:         EventCompleted,
			Index:        idx,
			Status:       domain.Completed,
			Message:      snapshot.TargetPath,
			TransferTask: snapshot,
		})
	case errors.As(err, &rerr):
		msg := fmt.Sprintf("transfer failed: %v", rerr)
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
		msg := fmt.Sprintf("transfer error: %v (link: %s, target: %s)", err, task.ShareLink, task.TargetPath)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("transfer timed out after %s (link: %s, target: %s)", w.callTimeout, task.ShareLink, task.TargetPath)
		}
		w.finish(task, idx, domain.Failed, msg, msg)
	}
}

// execute performs one transfer attempt and returns the opportunistically
// resolved remote filename alongside the transfer outcome.
func (w *TransferWorker) execute(task *domain.TransferTask) (string, error) {
	if task.ShareLink == "" {
		return "", errval.ErrEmptyLink
	}

	// An access code embedded in the link wins over the stored one.
	baseURL, code := sharelink.SplitAccessCode(task.ShareLink)
	if code == "" {
		code = task.SharePassword
	}

	ctx, cancel := callContext(w.callTimeout)
	defer cancel()

	// The whole call sequence, lookups included, runs under the execution
	// lock so the remote session state never sees interleaved calls.
	w.execLock.Lock()
	defer w.execLock.Unlock()

	var filename string
	if code != "" {
		if err := w.client.VerifyAccessCode(ctx, baseURL, code); err != nil {
			slog.Debug("pre-transfer access code check failed", "link", baseURL, "error", err)
		}
	}
	if name, err := w.client.ResolveShareFilename(ctx, baseURL, code); err == nil && name != "" {
		filename = name
	}

	w.throttler.Pace()
	return filename, w.client.Transfer(ctx, baseURL, code, task.TargetPath)
}

func (w *TransferWorker) finish(task *domain.TransferTask, idx int, status domain.TaskStatus, errMsg, eventMsg string) {
	w.queue.Do(func() {
		task.Status = status
		task.ErrorMessage = errMsg
	})
	w.persist(task, domain.TransferTaskChanges{
		Status:       statusPtr(status),
		ErrorMessage: strPtr(errMsg),
	})
	w.emit(Event{Kind: EventFailed, Index: idx, Status: status, Message: eventMsg})
}

// persist mirrors a mutation to the store. In-memory state stays
// authoritative: store failures are logged, never rolled back.
func (w *TransferWorker) persist(task *domain.TransferTask, changes domain.TransferTaskChanges) {
	if w.store == nil || task.ID == 0 {
		return
	}
	if err := w.store.UpdateTransferTask(context.Background(), task.ID, changes); err != nil {
		slog.Error("failed to persist transfer task update", "account", w.account, "task_id", task.ID, "error", err)
	}
}

func (w *TransferWorker) emit(e Event) {
	w.events <- e
}
