package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/throttle"
)

// nopLocker stands in for the shared execution lock when worker logic is
// tested in isolation.
type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

func newTestThrottler() *throttle.Throttler {
	// No jitter and generous limits so tests never sleep.
	return throttle.New(configs.ThrottleConfig{
		JitterMsMin:            0,
		JitterMsMax:            0,
		OpsPerWindow:           1000,
		WindowSec:              60,
		WindowRestSec:          0,
		MaxConsecutiveFailures: 100,
		PauseSecOnFailure:      0,
		CooldownOnOverrunSec:   0,
	})
}

// newOverrunThrottler records cooldown pauses instead of sleeping through
// them. The worker records a pause before it emits the terminal event, so a
// test that drains to that event reads the slice race-free.
func newOverrunThrottler(pauses *[]time.Duration) *throttle.Throttler {
	return throttle.NewWithSleep(configs.ThrottleConfig{
		OpsPerWindow:           1000,
		WindowSec:              60,
		MaxConsecutiveFailures: 100,
		CooldownOnOverrunSec:   120,
	}, func(d time.Duration) {
		if d > 0 {
			*pauses = append(*pauses, d)
		}
	})
}

type transferCall struct {
	baseURL    string
	accessCode string
	targetPath string
}

type shareCall struct {
	fsID       int64
	expiryDays int
	password   string
}

type fakeRemoteClient struct {
	mu            sync.Mutex
	transferErr   error
	resolveName   string
	resolveErr    error
	shareLink     string
	shareErr      error
	listEntries   []domain.FileEntry
	listErr       error
	transferCalls []transferCall
	shareCalls    []shareCall
	listCalls     []string
}

func (c *fakeRemoteClient) Authenticate(ctx context.Context, cookie string) error {
	return nil
}

func (c *fakeRemoteClient) Transfer(ctx context.Context, baseURL, accessCode, targetPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferCalls = append(c.transferCalls, transferCall{baseURL, accessCode, targetPath})
	return c.transferErr
}

func (c *fakeRemoteClient) CreateShare(ctx context.Context, fsID int64, expiryDays int, password string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shareCalls = append(c.shareCalls, shareCall{fsID, expiryDays, password})
	if c.shareErr != nil {
		return "", c.shareErr
	}
	return c.shareLink, nil
}

func (c *fakeRemoteClient) ListDir(ctx context.Context, path string) ([]domain.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls = append(c.listCalls, path)
	return c.listEntries, c.listErr
}

func (c *fakeRemoteClient) ResolveShareFilename(ctx context.Context, baseURL, accessCode string) (string, error) {
	return c.resolveName, c.resolveErr
}

func (c *fakeRemoteClient) VerifyAccessCode(ctx context.Context, baseURL, accessCode string) error {
	return nil
}

type fakeStore struct {
	mu              sync.Mutex
	nextID          int64
	transferUpdates map[int64][]domain.TransferTaskChanges
	shareUpdates    map[int64][]domain.ShareTaskChanges
	insertedShares  []*domain.ShareTask
	updateErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transferUpdates: map[int64][]domain.TransferTaskChanges{},
		shareUpdates:    map[int64][]domain.ShareTaskChanges{},
	}
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) FetchTransferTasks(ctx context.Context, account string) ([]*domain.TransferTask, error) {
	return nil, nil
}

func (s *fakeStore) InsertTransferTask(ctx context.Context, account string, task *domain.TransferTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) UpdateTransferTask(ctx context.Context, id int64, changes domain.TransferTaskChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferUpdates[id] = append(s.transferUpdates[id], changes)
	return s.updateErr
}

func (s *fakeStore) DeleteTransferTask(ctx context.Context, id int64) error { return s.updateErr }

func (s *fakeStore) ReorderTransferTasks(ctx context.Context, account string, orderedIDs []int64) error {
	return s.updateErr
}

func (s *fakeStore) ClearTransferTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return 0, s.updateErr
}

func (s *fakeStore) FetchShareTasks(ctx context.Context, account string) ([]*domain.ShareTask, error) {
	return nil, nil
}

func (s *fakeStore) InsertShareTask(ctx context.Context, account string, task *domain.ShareTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.insertedShares = append(s.insertedShares, task)
	return s.nextID, nil
}

func (s *fakeStore) UpdateShareTask(ctx context.Context, id int64, changes domain.ShareTaskChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shareUpdates[id] = append(s.shareUpdates[id], changes)
	return s.updateErr
}

func (s *fakeStore) DeleteShareTask(ctx context.Context, id int64) error { return s.updateErr }

func (s *fakeStore) ReorderShareTasks(ctx context.Context, account string, orderedIDs []int64) error {
	return s.updateErr
}

func (s *fakeStore) ClearShareTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return 0, s.updateErr
}

// awaitTerminal drains events until the task reaches a terminal state.
func awaitTerminal(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			got = append(got, e)
			if e.Kind != EventProgress {
				return got
			}
		case <-timeout:
			t.Fatal("timed out waiting for a terminal event")
			return nil
		}
	}
}
