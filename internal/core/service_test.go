package core

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
)

func newTestConfig() *configs.Config {
	return &configs.Config{
		DefaultTargetPath:      "/bulk_transfer",
		DefaultShareExpiryDays: 7,
		Throttle: configs.ThrottleConfig{
			OpsPerWindow:           1000,
			WindowSec:              60,
			MaxConsecutiveFailures: 100,
		},
	}
}

type fakeClient struct {
	mu          sync.Mutex
	authErr     error
	transferErr error
	resolveName string
	shareLink   string
	listEntries []domain.FileEntry
	listErr     error
	listCalls   []string
	cookies     []string
}

func (c *fakeClient) Authenticate(ctx context.Context, cookie string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookie)
	return c.authErr
}

func (c *fakeClient) Transfer(ctx context.Context, baseURL, accessCode, targetPath string) error {
	return c.transferErr
}

func (c *fakeClient) CreateShare(ctx context.Context, fsID int64, expiryDays int, password string) (string, error) {
	return c.shareLink, nil
}

func (c *fakeClient) ListDir(ctx context.Context, path string) ([]domain.FileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls = append(c.listCalls, path)
	return c.listEntries, c.listErr
}

func (c *fakeClient) ResolveShareFilename(ctx context.Context, baseURL, accessCode string) (string, error) {
	return c.resolveName, nil
}

func (c *fakeClient) VerifyAccessCode(ctx context.Context, baseURL, accessCode string) error {
	return nil
}

type fakeStore struct {
	mu             sync.Mutex
	nextID         int64
	transfers      []*domain.TransferTask
	shares         []*domain.ShareTask
	insertedShares []*domain.ShareTask
	updatedIDs     []int64
	deletedIDs     []int64
	reorderCalls   [][]int64
	clearedStatus  []domain.TaskStatus
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) FetchTransferTasks(ctx context.Context, account string) ([]*domain.TransferTask, error) {
	return s.transfers, nil
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
	s.updatedIDs = append(s.updatedIDs, id)
	return nil
}

func (s *fakeStore) DeleteTransferTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *fakeStore) ReorderTransferTasks(ctx context.Context, account string, orderedIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reorderCalls = append(s.reorderCalls, orderedIDs)
	return nil
}

func (s *fakeStore) ClearTransferTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearedStatus = append(s.clearedStatus, status)
	return 0, nil
}

func (s *fakeStore) FetchShareTasks(ctx context.Context, account string) ([]*domain.ShareTask, error) {
	return s.shares, nil
}

func (s *fakeStore) InsertShareTask(ctx context.Context, account string, task *domain.ShareTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.insertedShares = append(s.insertedShares, task)
	return s.nextID, nil
}

func (s *fakeStore) UpdateShareTask(ctx context.Context, id int64, changes domain.ShareTaskChanges) error {
	return nil
}

func (s *fakeStore) DeleteShareTask(ctx context.Context, id int64) error { return nil }

func (s *fakeStore) ReorderShareTasks(ctx context.Context, account string, orderedIDs []int64) error {
	return nil
}

func (s *fakeStore) ClearShareTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return 0, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	cookies map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{cookies: map[string]string{}}
}

func (s *fakeSessions) Ping(ctx context.Context) error { return nil }

func (s *fakeSessions) SaveSession(ctx context.Context, account, cookie string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[account] = cookie
	return nil
}

func (s *fakeSessions) LoadSession(ctx context.Context, account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cookie, ok := s.cookies[account]
	if !ok {
		return "", errval.ErrNotFound
	}
	return cookie, nil
}

func (s *fakeSessions) DeleteSession(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cookies, account)
	return nil
}

func (s *fakeSessions) Close() error { return nil }

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestService_StartRequiresLogin(t *testing.T) {
	s := New(newTestConfig(), &fakeClient{}, nil, nil, "")

	assert.ErrorIs(t, s.StartTransfer(), errval.ErrNotLoggedIn)
	assert.ErrorIs(t, s.StartShare(), errval.ErrNotLoggedIn)
}

func TestService_StartRefusesSecondWorker(t *testing.T) {
	s := New(newTestConfig(), &fakeClient{}, nil, nil, "")
	t.Cleanup(s.Close)

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))
	require.NoError(t, s.StartTransfer())
	assert.ErrorIs(t, s.StartTransfer(), errval.ErrAlreadyRuns)

	// Stop drops the worker, so a fresh start is allowed again.
	s.StopTransfer()
	assert.NoError(t, s.StartTransfer())
}

func TestService_LoginHydratesQueues(t *testing.T) {
	store := &fakeStore{
		transfers: []*domain.TransferTask{
			{ID: 1, ShareLink: "https://pan.example/s/a", Status: domain.Pending},
			{ID: 2, ShareLink: "https://pan.example/s/b", Status: domain.Completed},
		},
		shares: []*domain.ShareTask{
			{ID: 3, FsID: 9, Status: domain.Pending},
		},
	}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))

	assert.Len(t, s.TransferTasks(), 2)
	assert.Len(t, s.ShareTasks(), 1)
	for _, task := range s.TransferTasks() {
		assert.Equal(t, s.sessionTag, task.SessionTag)
	}
}

func TestService_LoginCachesCookieAndResumes(t *testing.T) {
	sessions := newFakeSessions()
	s := New(newTestConfig(), &fakeClient{}, nil, sessions, "tester")

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))
	assert.Equal(t, "BDUSS=abc", sessions.cookies["tester"])

	s2 := New(newTestConfig(), &fakeClient{}, nil, sessions, "tester")
	require.NoError(t, s2.ResumeSession(context.Background()))
	assert.NoError(t, s2.StartTransfer())
	s2.Close()
}

func TestService_ImportTransferTasks(t *testing.T) {
	store := &fakeStore{}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	n := s.ImportTransferTasks([]TransferImportRow{
		{Title: "one", Link: "https://pan.example/s/a?pwd=1234"},
		{Title: "no link, skipped"},
		{Title: "two", Link: "https://pan.example/s/b", Password: "zz88", TargetPath: "/custom"},
	}, "", false)

	assert.Equal(t, 2, n)
	tasks := s.TransferTasks()
	require.Len(t, tasks, 2)

	// Embedded access code backfills the password; the link itself is stored
	// untouched.
	assert.Equal(t, "https://pan.example/s/a?pwd=1234", tasks[0].ShareLink)
	assert.Equal(t, "1234", tasks[0].SharePassword)
	assert.Equal(t, "/bulk_transfer", tasks[0].TargetPath)
	assert.Equal(t, int64(1), tasks[0].ID)

	assert.Equal(t, "zz88", tasks[1].SharePassword)
	assert.Equal(t, "/custom", tasks[1].TargetPath)
	assert.Equal(t, int64(2), tasks[1].ID)
}

func TestService_AutoShareChaining(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{
		resolveName: "show.mkv",
		listEntries: []domain.FileEntry{
			{FsID: 42, ServerFilename: "other.mkv", Path: "/bulk_transfer/other.mkv"},
			{FsID: 77, ServerFilename: "show.mkv", Path: "/bulk_transfer/show.mkv"},
		},
	}
	s := New(newTestConfig(), client, store, nil, "tester")
	t.Cleanup(s.Close)

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))
	s.ImportTransferTasks([]TransferImportRow{
		{Title: "The Show", Link: "https://pan.example/s/a?pwd=1234"},
	}, "", true)
	require.NoError(t, s.StartTransfer())

	waitFor(t, func() bool { return len(s.ShareTasks()) == 1 }, "no share task was chained")

	st := s.ShareTasks()[0]
	assert.Equal(t, "The Show", st.Title)
	assert.Equal(t, int64(77), st.FsID)
	assert.Equal(t, "show.mkv", st.FileName)
	assert.Equal(t, domain.PasswordRandom, st.PasswordMode)
	assert.Equal(t, 7, st.ExpiryDays)
	assert.Equal(t, strconv.FormatInt(s.TransferTasks()[0].ID, 10), st.Metadata[domain.MetaOriginTransferID])
}

func TestService_AutoShareNoMatchLeavesShareQueueEmpty(t *testing.T) {
	client := &fakeClient{
		resolveName: "show.mkv",
		listEntries: []domain.FileEntry{
			{FsID: 42, ServerFilename: "other.mkv", Path: "/bulk_transfer/other.mkv"},
		},
	}
	s := New(newTestConfig(), client, nil, nil, "")
	t.Cleanup(s.Close)

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))
	s.ImportTransferTasks([]TransferImportRow{{Link: "https://pan.example/s/a"}}, "", true)
	require.NoError(t, s.StartTransfer())

	waitFor(t, func() bool {
		return s.TransferStatus().Completed == 1
	}, "transfer did not complete")

	// The listing happened but nothing matched.
	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.listCalls) == 1
	}, "target directory was not listed")
	assert.Empty(t, s.ShareTasks())
}

func TestService_ClearByStatus(t *testing.T) {
	store := &fakeStore{}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	s.ImportTransferTasks([]TransferImportRow{
		{Link: "https://pan.example/s/a"},
		{Link: "https://pan.example/s/b"},
		{Link: "https://pan.example/s/c"},
	}, "", false)
	setStatus := func(id int64, status domain.TaskStatus) {
		task, ok := s.transferQueue.Find(func(t *domain.TransferTask) bool { return t.GetID() == id })
		require.True(t, ok)
		s.transferQueue.Do(func() { task.Status = status })
	}
	setStatus(1, domain.Failed)
	setStatus(2, domain.Completed)

	assert.Equal(t, 1, s.ClearTransferQueue(domain.Failed))
	assert.Len(t, s.TransferTasks(), 2)
	assert.Equal(t, []domain.TaskStatus{domain.Failed}, store.clearedStatus)

	assert.Equal(t, 2, s.ClearTransferQueue(""))
	assert.Empty(t, s.TransferTasks())
}

func TestService_ReorderDropsOmittedTasks(t *testing.T) {
	store := &fakeStore{}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	s.ImportTransferTasks([]TransferImportRow{
		{Link: "https://pan.example/s/a"},
		{Link: "https://pan.example/s/b"},
		{Link: "https://pan.example/s/c"},
	}, "", false)

	assert.True(t, s.ReorderTransferTasks([]int64{3, 1}))

	tasks := s.TransferTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(3), tasks[0].ID)
	assert.Equal(t, int64(1), tasks[1].ID)
	assert.Equal(t, [][]int64{{3, 1}}, store.reorderCalls)
}

func TestService_RemoveTask(t *testing.T) {
	store := &fakeStore{}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	s.ImportTransferTasks([]TransferImportRow{
		{Link: "https://pan.example/s/a"},
		{Link: "https://pan.example/s/b"},
	}, "", false)

	assert.True(t, s.RemoveTransferTask(1))
	tasks := s.TransferTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(2), tasks[0].ID)
	assert.Equal(t, []int64{1}, store.deletedIDs)
}

func TestService_ToggleAutoShare(t *testing.T) {
	store := &fakeStore{}
	s := New(newTestConfig(), &fakeClient{}, store, nil, "tester")

	s.ImportTransferTasks([]TransferImportRow{{Link: "https://pan.example/s/a"}}, "", false)

	assert.True(t, s.ToggleAutoShare(1, true))
	assert.True(t, s.TransferTasks()[0].AutoShare)
	assert.Equal(t, []int64{1}, store.updatedIDs)

	// An id the queue does not hold must not touch the store either.
	assert.False(t, s.ToggleAutoShare(99, true))
	assert.Equal(t, []int64{1}, store.updatedIDs)
}

// The task views hand out detached copies: writing to them must never reach
// the queue the workers run against.
func TestService_TaskViewsAreCopies(t *testing.T) {
	s := New(newTestConfig(), &fakeClient{}, nil, nil, "")

	s.ImportTransferTasks([]TransferImportRow{{Link: "https://pan.example/s/a"}}, "", false)

	view := s.TransferTasks()
	require.Len(t, view, 1)
	view[0].SetStatus(domain.Failed)
	view[0].ErrorMessage = "scribbled"

	assert.Equal(t, 1, s.TransferStatus().Pending)
	assert.Equal(t, 0, s.TransferStatus().Failed)
	assert.Empty(t, s.TransferTasks()[0].ErrorMessage)
}

func TestService_ShareResults(t *testing.T) {
	s := New(newTestConfig(), &fakeClient{}, nil, nil, "")
	s.shareQueue.Append(
		&domain.ShareTask{Title: "Done", Status: domain.Completed, ShareLink: "https://pan.example/s/x", SharePassword: "ab12"},
		&domain.ShareTask{FileName: "untitled.mkv", Status: domain.Completed, ShareLink: "https://pan.example/s/y"},
		&domain.ShareTask{Title: "Still pending", Status: domain.Pending},
	)

	results := s.ShareResults()
	require.Len(t, results, 2)
	assert.Equal(t, "Done", results[0].Title)
	assert.Equal(t, "https://pan.example/s/x?pwd=ab12", results[0].Link)
	assert.Equal(t, "untitled.mkv", results[1].Title)
	assert.Equal(t, "https://pan.example/s/y", results[1].Link)
}

func TestService_AddShareTasksFromPath(t *testing.T) {
	client := &fakeClient{
		listEntries: []domain.FileEntry{
			{FsID: 1, ServerFilename: "show.mkv", Path: "/media/show.mkv"},
			{FsID: 2, ServerFilename: "loose_file.pdf", Path: "/media/loose_file.pdf"},
		},
	}
	s := New(newTestConfig(), client, nil, nil, "")

	_, err := s.AddShareTasksFromPath(context.Background(), "/media", 7, "")
	assert.ErrorIs(t, err, errval.ErrNotLoggedIn)

	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))
	s.transferQueue.Append(&domain.TransferTask{
		Title: "The Show", Filename: "show.mkv", Status: domain.Completed,
	})

	n, err := s.AddShareTasksFromPath(context.Background(), "/media", 30, "zz88")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tasks := s.ShareTasks()
	require.Len(t, tasks, 2)
	// Title comes from the completed transfer when the filename matches,
	// otherwise the filename stands in.
	assert.Equal(t, "The Show", tasks[0].Title)
	assert.Equal(t, "loose_file.pdf", tasks[1].Title)
	for _, task := range tasks {
		assert.Equal(t, domain.PasswordFixed, task.PasswordMode)
		assert.Equal(t, "zz88", task.SharePassword)
		assert.Equal(t, 30, task.ExpiryDays)
	}
}

func TestService_SearchFiles(t *testing.T) {
	client := &fakeClient{
		listEntries: []domain.FileEntry{
			{FsID: 1, ServerFilename: "Holiday.Photos.zip"},
			{FsID: 2, ServerFilename: "notes.txt"},
		},
	}
	s := New(newTestConfig(), client, nil, nil, "")
	require.NoError(t, s.Login(context.Background(), "BDUSS=abc"))

	matched, err := s.SearchFiles(context.Background(), "photos", "/media")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, int64(1), matched[0].FsID)
}
