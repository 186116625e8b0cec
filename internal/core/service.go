// Package core owns both task queues, both workers, the shared execution
// lock and the shared throttler, and exposes the lifecycle, import and
// queue-management operations callers drive the engine with.
package core

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
	"github.com/fewk2/panbutler/internal/queue"
	"github.com/fewk2/panbutler/internal/throttle"
	"github.com/fewk2/panbutler/internal/worker"
	"github.com/fewk2/panbutler/pkg/sharelink"
)

// TransferImportRow is one row of a batch import. Only the link is required.
type TransferImportRow struct {
	Title      string
	Link       string
	Password   string
	TargetPath string
}

// ShareResult is the export projection of a completed share task: the title
// plus the full link with its access code recombined.
type ShareResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Service orchestrates the transfer and share queues.
type Service struct {
	cfg      *configs.Config
	client   domain.RemoteClient
	store    domain.TaskStore    // nil without persistence
	sessions domain.SessionStore // nil without a session cache
	account  string

	throttler  *throttle.Throttler
	execMu     sync.Mutex // serializes every remote call across both workers
	sessionTag string

	mu             sync.Mutex // guards loggedIn and the worker references
	loggedIn       bool
	transferWorker *worker.TransferWorker
	shareWorker    *worker.ShareWorker

	transferQueue *queue.Queue[*domain.TransferTask]
	shareQueue    *queue.Queue[*domain.ShareTask]

	drainWG sync.WaitGroup
}

func New(cfg *configs.Config, client domain.RemoteClient, store domain.TaskStore, sessions domain.SessionStore, account string) *Service {
	return &Service{
		cfg:           cfg,
		client:        client,
		store:         store,
		sessions:      sessions,
		account:       account,
		throttler:     throttle.New(cfg.Throttle),
		sessionTag:    time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8],
		transferQueue: queue.New[*domain.TransferTask](),
		shareQueue:    queue.New[*domain.ShareTask](),
	}
}

func nowStr() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// Login authenticates against the remote service, caches the cookie for the
// account and hydrates both queues from the store.
func (s *Service) Login(ctx context.Context, cookie string) error {
	if err := s.client.Authenticate(ctx, cookie); err != nil {
		slog.Error("login failed", "account", s.account, "error", err)
		return err
	}

	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
	slog.Info("login succeeded", "account", s.account)

	if s.sessions != nil && s.account != "" {
		if err := s.sessions.SaveSession(ctx, s.account, cookie); err != nil {
			slog.Warn("failed to cache session cookie", "account", s.account, "error", err)
		}
	}
	if s.store != nil && s.account != "" {
		s.hydrateQueues(ctx)
	}
	return nil
}

// ResumeSession logs back in with the cookie cached for the account.
func (s *Service) ResumeSession(ctx context.Context) error {
	if s.sessions == nil || s.account == "" {
		return errval.ErrNotFound
	}
	cookie, err := s.sessions.LoadSession(ctx, s.account)
	if err != nil {
		return err
	}
	return s.Login(ctx, cookie)
}

func (s *Service) hydrateQueues(ctx context.Context) {
	transfers, err := s.store.FetchTransferTasks(ctx, s.account)
	if err != nil {
		slog.Error("failed to hydrate transfer queue", "account", s.account, "error", err)
	} else {
		for _, t := range transfers {
			t.SessionTag = s.sessionTag
		}
		s.transferQueue.Clear("")
		s.transferQueue.Append(transfers...)
	}

	shares, err := s.store.FetchShareTasks(ctx, s.account)
	if err != nil {
		slog.Error("failed to hydrate share queue", "account", s.account, "error", err)
	} else {
		for _, t := range shares {
			t.SessionTag = s.sessionTag
		}
		s.shareQueue.Clear("")
		s.shareQueue.Append(shares...)
	}

	slog.Info("queues hydrated from store",
		"account", s.account,
		"transfer_tasks", s.transferQueue.Len(),
		"share_tasks", s.shareQueue.Len())
}

// ImportTransferTasks validates and enqueues a batch. Only the link is
// required; rows without one are skipped silently and not counted. An access
// code embedded in the link backfills a missing explicit password.
func (s *Service) ImportTransferTasks(rows []TransferImportRow, defaultTargetPath string, autoShare bool) int {
	if defaultTargetPath == "" {
		defaultTargetPath = s.cfg.DefaultTargetPath
	}

	imported := 0
	for _, row := range rows {
		link := strings.TrimSpace(row.Link)
		if link == "" {
			continue
		}

		password := strings.TrimSpace(row.Password)
		if password == "" {
			if _, embedded := sharelink.SplitAccessCode(link); embedded != "" {
				password = embedded
			}
		}
		targetPath := strings.TrimSpace(row.TargetPath)
		if targetPath == "" {
			targetPath = defaultTargetPath
		}

		task := &domain.TransferTask{
			Title:         strings.TrimSpace(row.Title),
			ShareLink:     link,
			SharePassword: password,
			TargetPath:    targetPath,
			Status:        domain.Pending,
			AutoShare:     autoShare,
			CreatedAt:     nowStr(),
			SessionTag:    s.sessionTag,
		}
		s.persistAndAppendTransfer(task)
		imported++
	}

	slog.Info("imported transfer tasks", "count", imported, "auto_share", autoShare)
	return imported
}

// AddTransferTask enqueues a single transfer. Returns false when the link is
// missing.
func (s *Service) AddTransferTask(link, password, targetPath string) bool {
	if strings.TrimSpace(link) == "" {
		return false
	}
	return s.ImportTransferTasks([]TransferImportRow{{
		Link:       link,
		Password:   password,
		TargetPath: targetPath,
	}}, "", false) == 1
}

func (s *Service) persistAndAppendTransfer(task *domain.TransferTask) {
	if s.store != nil && s.account != "" {
		id, err := s.store.InsertTransferTask(context.Background(), s.account, task)
		if err != nil {
			slog.Error("failed to persist transfer task", "link", task.ShareLink, "error", err)
		} else {
			task.ID = id
		}
	}
	s.transferQueue.Append(task)
}

func (s *Service) persistAndAppendShare(task *domain.ShareTask) {
	if s.store != nil && s.account != "" {
		id, err := s.store.InsertShareTask(context.Background(), s.account, task)
		if err != nil {
			slog.Error("failed to persist share task", "title", task.Title, "error", err)
		} else {
			task.ID = id
		}
	}
	s.shareQueue.Append(task)
}

// StartTransfer constructs and starts the transfer worker. It refuses to run
// without an authenticated session or while a transfer worker is active.
func (s *Service) StartTransfer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		return errval.ErrNotLoggedIn
	}
	if s.transferWorker != nil && s.transferWorker.IsRunning() {
		return errval.ErrAlreadyRuns
	}

	w := worker.NewTransferWorker(s.transferQueue, s.client, s.throttler, &s.execMu, s.store, s.account, s.cfg.RemoteCallTimeout())
	s.transferWorker = w
	w.Start()
	s.drainWG.Add(1)
	go s.drainTransferEvents(w)
	slog.Info("transfer worker started")
	return nil
}

// StartShare constructs and starts the share worker, with the same gating as
// StartTransfer.
func (s *Service) StartShare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loggedIn {
		return errval.ErrNotLoggedIn
	}
	if s.shareWorker != nil && s.shareWorker.IsRunning() {
		return errval.ErrAlreadyRuns
	}

	w := worker.NewShareWorker(s.shareQueue, s.client, s.throttler, &s.execMu, s.store, s.account, s.cfg.RemoteCallTimeout())
	s.shareWorker = w
	w.Start()
	s.drainWG.Add(1)
	go s.drainShareEvents(w)
	slog.Info("share worker started")
	return nil
}

func (s *Service) drainTransferEvents(w *worker.TransferWorker) {
	defer s.drainWG.Done()
	for e := range w.Events() {
		switch e.Kind {
		case worker.EventProgress:
			slog.Info("transfer progress", "index", e.Index, "status", e.Status)
		case worker.EventCompleted:
			slog.Info("transfer completed", "index", e.Index, "target_path", e.Message)
			if e.TransferTask != nil && e.TransferTask.AutoShare {
				s.chainAutoShare(e.TransferTask)
			}
		case worker.EventFailed:
			slog.Warn("transfer not completed", "index", e.Index, "status", e.Status, "message", e.Message)
		}
	}
}

func (s *Service) drainShareEvents(w *worker.ShareWorker) {
	defer s.drainWG.Done()
	for e := range w.Events() {
		switch e.Kind {
		case worker.EventProgress:
			slog.Info("share progress", "index", e.Index, "status", e.Status)
		case worker.EventCompleted:
			slog.Info("share completed", "index", e.Index, "link", e.ShareLink, "password", e.SharePassword)
		case worker.EventFailed:
			slog.Warn("share not completed", "index", e.Index, "status", e.Status, "message", e.Message)
		}
	}
}

// chainAutoShare synthesizes a share task for a completed transfer: list the
// target directory, match the filename resolved during the transfer, enqueue
// a random-password share for the first match. Failures are logged and never
// affect the originating transfer.
func (s *Service) chainAutoShare(task *domain.TransferTask) {
	if task.Filename == "" {
		slog.Warn("auto-share skipped: transfer resolved no filename", "task_id", task.ID)
		return
	}

	ctx, cancel := s.callContext()
	defer cancel()

	s.execMu.Lock()
	s.throttler.Pace()
	entries, err := s.client.ListDir(ctx, task.TargetPath)
	s.execMu.Unlock()
	if err != nil {
		slog.Warn("auto-share skipped: target listing failed", "task_id", task.ID, "path", task.TargetPath, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.ServerFilename != task.Filename {
			continue
		}
		title := task.Title
		if title == "" {
			title = entry.ServerFilename
		}
		st := &domain.ShareTask{
			Title:        title,
			FsID:         entry.FsID,
			FilePath:     entry.Path,
			FileName:     entry.ServerFilename,
			ExpiryDays:   s.cfg.DefaultShareExpiryDays,
			PasswordMode: domain.PasswordRandom,
			Status:       domain.Pending,
			CreatedAt:    nowStr(),
			SessionTag:   s.sessionTag,
			Metadata: map[string]string{
				domain.MetaOriginTransferID: strconv.FormatInt(task.ID, 10),
			},
		}
		s.persistAndAppendShare(st)
		slog.Info("auto-created share task", "title", st.Title, "fs_id", st.FsID, "origin_transfer_id", task.ID)
		return // first match only
	}
	slog.Warn("auto-share skipped: no entry matched resolved filename", "task_id", task.ID, "filename", task.Filename)
}

// AddShareTasksFromPath lists a directory and enqueues a share task per
// entry. Titles come from completed transfer tasks whose resolved filename
// matches; unmatched entries fall back to the filename itself. A non-empty
// fixedPassword selects fixed mode, otherwise codes are generated per task.
func (s *Service) AddShareTasksFromPath(ctx context.Context, path string, expiryDays int, fixedPassword string) (int, error) {
	s.mu.Lock()
	loggedIn := s.loggedIn
	s.mu.Unlock()
	if !loggedIn {
		return 0, errval.ErrNotLoggedIn
	}

	s.execMu.Lock()
	s.throttler.Pace()
	entries, err := s.client.ListDir(ctx, path)
	s.execMu.Unlock()
	if err != nil {
		slog.Error("failed to list directory for share import", "path", path, "error", err)
		return 0, err
	}

	titleByFilename := map[string]string{}
	for _, t := range s.transferQueue.Snapshot() {
		if t.GetStatus() == domain.Completed && t.Filename != "" && t.Title != "" {
			titleByFilename[t.Filename] = t.Title
		}
	}

	mode := domain.PasswordRandom
	if fixedPassword != "" {
		mode = domain.PasswordFixed
	}

	added := 0
	for _, entry := range entries {
		title, ok := titleByFilename[entry.ServerFilename]
		if !ok {
			title = entry.ServerFilename
		}
		st := &domain.ShareTask{
			Title:         title,
			FsID:          entry.FsID,
			FilePath:      entry.Path,
			FileName:      entry.ServerFilename,
			ExpiryDays:    expiryDays,
			PasswordMode:  mode,
			SharePassword: fixedPassword,
			Status:        domain.Pending,
			CreatedAt:     nowStr(),
			SessionTag:    s.sessionTag,
		}
		s.persistAndAppendShare(st)
		added++
	}

	slog.Info("imported share tasks from path", "path", path, "count", added, "expiry_days", expiryDays)
	return added, nil
}

func (s *Service) PauseTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferWorker != nil {
		s.transferWorker.Pause()
		slog.Info("transfer worker paused")
	}
}

func (s *Service) ResumeTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferWorker != nil {
		s.transferWorker.Resume()
		slog.Info("transfer worker resumed")
	}
}

// StopTransfer asks the worker to exit and drops the reference. The stop is
// cooperative: a task already executing completes first.
func (s *Service) StopTransfer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferWorker != nil {
		s.transferWorker.Stop()
		s.transferWorker = nil
		slog.Info("transfer worker stopped")
	}
}

func (s *Service) PauseShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shareWorker != nil {
		s.shareWorker.Pause()
		slog.Info("share worker paused")
	}
}

func (s *Service) ResumeShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shareWorker != nil {
		s.shareWorker.Resume()
		slog.Info("share worker resumed")
	}
}

func (s *Service) StopShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shareWorker != nil {
		s.shareWorker.Stop()
		s.shareWorker = nil
		slog.Info("share worker stopped")
	}
}

// TransferStatus is a read-only projection of queue counts and worker state.
func (s *Service) TransferStatus() domain.QueueStatus {
	s.mu.Lock()
	w := s.transferWorker
	s.mu.Unlock()

	st := domain.QueueStatus{QueueCounts: s.transferQueue.Counts()}
	if w != nil {
		st.IsRunning = w.IsRunning()
		st.IsPaused = w.IsPaused()
	}
	return st
}

func (s *Service) ShareStatus() domain.QueueStatus {
	s.mu.Lock()
	w := s.shareWorker
	s.mu.Unlock()

	st := domain.QueueStatus{QueueCounts: s.shareQueue.Counts()}
	if w != nil {
		st.IsRunning = w.IsRunning()
		st.IsPaused = w.IsPaused()
	}
	return st
}

// TransferTasks returns detached copies of the queued tasks; callers may read
// and marshal them freely while the worker keeps running.
func (s *Service) TransferTasks() []*domain.TransferTask {
	return s.transferQueue.Snapshot()
}

func (s *Service) ShareTasks() []*domain.ShareTask {
	return s.shareQueue.Snapshot()
}

// RemoveTransferTask drops a task from memory, then from the store. A store
// failure is reported as false, not raised.
func (s *Service) RemoveTransferTask(id int64) bool {
	s.transferQueue.RemoveByID(id)
	if s.store != nil && s.account != "" {
		if err := s.store.DeleteTransferTask(context.Background(), id); err != nil {
			slog.Error("failed to delete transfer task from store", "task_id", id, "error", err)
			return false
		}
	}
	return true
}

func (s *Service) RemoveShareTask(id int64) bool {
	s.shareQueue.RemoveByID(id)
	if s.store != nil && s.account != "" {
		if err := s.store.DeleteShareTask(context.Background(), id); err != nil {
			slog.Error("failed to delete share task from store", "task_id", id, "error", err)
			return false
		}
	}
	return true
}

// ReorderTransferTasks rewrites the queue order to the given id list; ids not
// named are dropped from the in-memory queue.
func (s *Service) ReorderTransferTasks(orderedIDs []int64) bool {
	s.transferQueue.Reorder(orderedIDs)
	if s.store != nil && s.account != "" {
		if err := s.store.ReorderTransferTasks(context.Background(), s.account, orderedIDs); err != nil {
			slog.Error("failed to persist transfer queue order", "error", err)
			return false
		}
	}
	return true
}

func (s *Service) ReorderShareTasks(orderedIDs []int64) bool {
	s.shareQueue.Reorder(orderedIDs)
	if s.store != nil && s.account != "" {
		if err := s.store.ReorderShareTasks(context.Background(), s.account, orderedIDs); err != nil {
			slog.Error("failed to persist share queue order", "error", err)
			return false
		}
	}
	return true
}

// ClearTransferQueue removes tasks matching the optional status filter and
// returns how many left the in-memory queue.
func (s *Service) ClearTransferQueue(status domain.TaskStatus) int {
	removed := s.transferQueue.Clear(status)
	if s.store != nil && s.account != "" {
		if _, err := s.store.ClearTransferTasks(context.Background(), s.account, status); err != nil {
			slog.Error("failed to clear transfer tasks in store", "status", status, "error", err)
		}
	}
	return removed
}

func (s *Service) ClearShareQueue(status domain.TaskStatus) int {
	removed := s.shareQueue.Clear(status)
	if s.store != nil && s.account != "" {
		if _, err := s.store.ClearShareTasks(context.Background(), s.account, status); err != nil {
			slog.Error("failed to clear share tasks in store", "status", status, "error", err)
		}
	}
	return removed
}

// ToggleAutoShare flips the auto-share flag on a queued transfer task. Memory
// first: an id absent from the queue is never written to the store.
func (s *Service) ToggleAutoShare(id int64, autoShare bool) bool {
	t, ok := s.transferQueue.Find(func(t *domain.TransferTask) bool { return t.GetID() == id })
	if !ok {
		return false
	}
	s.transferQueue.Do(func() { t.AutoShare = autoShare })

	if s.store != nil && s.account != "" {
		if err := s.store.UpdateTransferTask(context.Background(), id, domain.TransferTaskChanges{AutoShare: &autoShare}); err != nil {
			slog.Error("failed to persist auto-share flag", "task_id", id, "error", err)
			return false
		}
	}
	return true
}

// ShareResults projects completed share tasks into title + retrievable link.
func (s *Service) ShareResults() []ShareResult {
	var results []ShareResult
	for _, t := range s.shareQueue.Snapshot() {
		if t.GetStatus() != domain.Completed {
			continue
		}
		title := t.Title
		if title == "" {
			title = t.FileName
		}
		results = append(results, ShareResult{
			Title: title,
			Link:  sharelink.BuildWithAccessCode(t.ShareLink, t.SharePassword),
		})
	}
	return results
}

// SearchFiles filters a directory listing by a case-insensitive keyword.
func (s *Service) SearchFiles(ctx context.Context, keyword, path string) ([]domain.FileEntry, error) {
	s.mu.Lock()
	loggedIn := s.loggedIn
	s.mu.Unlock()
	if !loggedIn {
		return nil, errval.ErrNotLoggedIn
	}

	s.execMu.Lock()
	s.throttler.Pace()
	entries, err := s.client.ListDir(ctx, path)
	s.execMu.Unlock()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(keyword)
	var matched []domain.FileEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.ServerFilename), needle) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// Close stops both workers and waits for their event drains to finish.
func (s *Service) Close() {
	s.StopTransfer()
	s.StopShare()
	s.drainWG.Wait()
}

func (s *Service) callContext() (context.Context, context.CancelFunc) {
	if timeout := s.cfg.RemoteCallTimeout(); timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}
