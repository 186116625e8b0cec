package worker

import (
	"testing"
	"time"

	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/queue"
	"github.com/stretchr/testify/assert"
)

func startTransferWorker(t *testing.T, q *queue.Queue[*domain.TransferTask], client *fakeRemoteClient, store *fakeStore) *TransferWorker {
	t.Helper()
	var ts domain.TaskStore
	if store != nil {
		ts = store
	}
	w := NewTransferWorker(q, client, newTestThrottler(), nopLocker{}, ts, "tester", 0)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestTransferWorker_Success(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{
		Status:     domain.Pending,
		ShareLink:  "https://pan.example/s/abc?pwd=1234",
		TargetPath: "/bulk_transfer",
	}
	q.Append(task)

	client := &fakeRemoteClient{resolveName: "report.pdf"}
	w := startTransferWorker(t, q, client, nil)

	events := awaitTerminal(t, w.Events())
	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Kind)
	assert.Equal(t, domain.Completed, task.GetStatus())
	assert.Equal(t, "report.pdf", task.Filename)
	if assert.NotNil(t, last.TransferTask) {
		assert.Equal(t, "report.pdf", last.TransferTask.Filename)
	}

	// The embedded access code must be stripped from the link and passed
	// separately.
	if assert.Len(t, client.transferCalls, 1) {
		assert.Equal(t, "https://pan.example/s/abc", client.transferCalls[0].baseURL)
		assert.Equal(t, "1234", client.transferCalls[0].accessCode)
		assert.Equal(t, "/bulk_transfer", client.transferCalls[0].targetPath)
	}
	assert.Equal(t, 0, w.throttler.ConsecutiveFailures())
}

func TestTransferWorker_ExplicitPasswordWhenNotEmbedded(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	q.Append(&domain.TransferTask{
		Status:        domain.Pending,
		ShareLink:     "https://pan.example/s/abc",
		SharePassword: "zz88",
		TargetPath:    "/bulk_transfer",
	})

	client := &fakeRemoteClient{}
	w := startTransferWorker(t, q, client, nil)
	awaitTerminal(t, w.Events())

	if assert.Len(t, client.transferCalls, 1) {
		assert.Equal(t, "zz88", client.transferCalls[0].accessCode)
	}
}

// A skip-set code ends the task skipped and leaves the failure streak alone.
func TestTransferWorker_SkipCode(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	client := &fakeRemoteClient{transferErr: &domain.RemoteError{Code: domain.CodeDuplicateName}}
	w := startTransferWorker(t, q, client, nil)

	events := awaitTerminal(t, w.Events())
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Kind)
	assert.Equal(t, domain.Skipped, last.Status)
	assert.Contains(t, last.Message, "skipped - ")
	assert.Equal(t, domain.Skipped, task.GetStatus())
	assert.NotEmpty(t, task.ErrorMessage)
	assert.Equal(t, 0, w.throttler.ConsecutiveFailures())
}

// The access-overrun code is in the skip set, so it never feeds the failure
// streak; the fixed cooldown must still fire before the task is reported.
func TestTransferWorker_OverrunCodeSkipsAndCoolsDown(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	var pauses []time.Duration
	client := &fakeRemoteClient{transferErr: &domain.RemoteError{Code: domain.CodeTooManyAccesses}}
	w := NewTransferWorker(q, client, newOverrunThrottler(&pauses), nopLocker{}, nil, "tester", 0)
	w.Start()
	t.Cleanup(w.Stop)

	events := awaitTerminal(t, w.Events())
	last := events[len(events)-1]
	assert.Equal(t, domain.Skipped, last.Status)
	assert.Contains(t, last.Message, "skipped - ")
	assert.Equal(t, domain.Skipped, task.GetStatus())
	assert.Equal(t, 0, w.throttler.ConsecutiveFailures())
	assert.Contains(t, pauses, 120*time.Second)
}

func TestTransferWorker_TransientFailure(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	client := &fakeRemoteClient{transferErr: &domain.RemoteError{Code: domain.CodeUnknownFailure}}
	w := startTransferWorker(t, q, client, nil)

	events := awaitTerminal(t, w.Events())
	last := events[len(events)-1]
	assert.Equal(t, domain.Failed, last.Status)
	assert.Equal(t, domain.Failed, task.GetStatus())
	assert.Equal(t, 1, w.throttler.ConsecutiveFailures())
}

// A missing share link is a data error, not a skip: the task fails with the
// link and target embedded in the message and the streak stays untouched.
func TestTransferWorker_EmptyLink(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{Status: domain.Pending, TargetPath: "/t"}
	q.Append(task)

	client := &fakeRemoteClient{}
	w := startTransferWorker(t, q, client, nil)

	events := awaitTerminal(t, w.Events())
	last := events[len(events)-1]
	assert.Equal(t, domain.Failed, last.Status)
	assert.Contains(t, last.Message, "target: /t")
	assert.Empty(t, client.transferCalls)
	assert.Equal(t, 0, w.throttler.ConsecutiveFailures())
}

func TestTransferWorker_ResolveFailureDoesNotBlockTransfer(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	client := &fakeRemoteClient{resolveErr: &domain.RemoteError{Code: domain.CodeInvalidLink}}
	w := startTransferWorker(t, q, client, nil)

	events := awaitTerminal(t, w.Events())
	assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
	assert.Empty(t, task.Filename)
}

func TestTransferWorker_PersistsStatusChanges(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{ID: 7, Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	store := newFakeStore()
	client := &fakeRemoteClient{}
	w := startTransferWorker(t, q, client, store)
	awaitTerminal(t, w.Events())

	store.mu.Lock()
	updates := store.transferUpdates[7]
	store.mu.Unlock()
	if assert.Len(t, updates, 2) {
		assert.Equal(t, domain.Running, *updates[0].Status)
		assert.Equal(t, domain.Completed, *updates[1].Status)
	}
}

// Store failures are logged with the owning account and never roll back the
// in-memory state.
func TestTransferWorker_StoreFailureKeepsMemoryAuthoritative(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	task := &domain.TransferTask{ID: 7, Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	store := newFakeStore()
	store.updateErr = assert.AnError
	client := &fakeRemoteClient{}
	w := startTransferWorker(t, q, client, store)

	events := awaitTerminal(t, w.Events())
	assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
	assert.Equal(t, domain.Completed, task.GetStatus())
}

// After Pause, no task leaves pending until Resume.
func TestTransferWorker_PauseHoldsPendingTasks(t *testing.T) {
	q := queue.New[*domain.TransferTask]()
	client := &fakeRemoteClient{}
	w := startTransferWorker(t, q, client, nil)

	w.Pause()
	task := &domain.TransferTask{Status: domain.Pending, ShareLink: "https://pan.example/s/abc", TargetPath: "/t"}
	q.Append(task)

	select {
	case e := <-w.Events():
		t.Fatalf("expected no event while paused, got %v", e.Kind)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, domain.Pending, task.GetStatus())

	w.Resume()
	events := awaitTerminal(t, w.Events())
	assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
}
