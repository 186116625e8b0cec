package server

import (
	"context"
	"log/slog"

	"github.com/fewk2/panbutler/internal/core"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
)

// ServerLogic adapts the orchestrator for the HTTP layer: request structs in,
// sentinel errors out.
type ServerLogic struct {
	service *core.Service
}

func NewServerLogic(service *core.Service) *ServerLogic {
	return &ServerLogic{service: service}
}

func (s *ServerLogic) Login(ctx context.Context, req domain.RouterRequestLogin) error {
	err := s.service.Login(ctx, req.Cookie)
	if err != nil {
		slog.ErrorContext(ctx, "error occurred while calling service.Login", "error", err)
		return errval.ErrNotLoggedIn
	}

	return nil
}

func (s *ServerLogic) ImportTransfers(ctx context.Context, req domain.RouterRequestImportTransfers) (int, error) {
	rows := make([]core.TransferImportRow, 0, len(req.Rows))
	for _, r := range req.Rows {
		rows = append(rows, core.TransferImportRow{
			Title:      r.Title,
			Link:       r.Link,
			Password:   r.Password,
			TargetPath: r.TargetPath,
		})
	}

	imported := s.service.ImportTransferTasks(rows, req.DefaultTargetPath, req.AutoShare)
	return imported, nil
}

func (s *ServerLogic) ImportShares(ctx context.Context, req domain.RouterRequestImportShares, defaultExpiryDays int) (int, error) {
	expiryDays := defaultExpiryDays
	if req.ExpiryDays != nil {
		expiryDays = *req.ExpiryDays
	}

	added, err := s.service.AddShareTasksFromPath(ctx, req.Path, expiryDays, req.Password)
	if err != nil {
		if err == errval.ErrNotLoggedIn {
			return 0, err
		}

		slog.ErrorContext(ctx, "error occurred while calling service.AddShareTasksFromPath", "error", err)
		return 0, errval.ErrInternal
	}

	return added, nil
}

func (s *ServerLogic) StartTransfer() error { return s.service.StartTransfer() }
func (s *ServerLogic) PauseTransfer()       { s.service.PauseTransfer() }
func (s *ServerLogic) ResumeTransfer()      { s.service.ResumeTransfer() }
func (s *ServerLogic) StopTransfer()        { s.service.StopTransfer() }
func (s *ServerLogic) StartShare() error    { return s.service.StartShare() }
func (s *ServerLogic) PauseShare()          { s.service.PauseShare() }
func (s *ServerLogic) ResumeShare()         { s.service.ResumeShare() }
func (s *ServerLogic) StopShare()           { s.service.StopShare() }

func (s *ServerLogic) TransferStatus() domain.QueueStatus {
	return s.service.TransferStatus()
}

func (s *ServerLogic) ShareStatus() domain.QueueStatus {
	return s.service.ShareStatus()
}

func (s *ServerLogic) TransferTasks() []*domain.TransferTask {
	return s.service.TransferTasks()
}

func (s *ServerLogic) ShareTasks() []*domain.ShareTask {
	return s.service.ShareTasks()
}

func (s *ServerLogic) RemoveTransferTask(id int64) bool {
	return s.service.RemoveTransferTask(id)
}

func (s *ServerLogic) RemoveShareTask(id int64) bool {
	return s.service.RemoveShareTask(id)
}

func (s *ServerLogic) ReorderTransferTasks(req domain.RouterRequestReorder) bool {
	return s.service.ReorderTransferTasks(req.IDs)
}

func (s *ServerLogic) ReorderShareTasks(req domain.RouterRequestReorder) bool {
	return s.service.ReorderShareTasks(req.IDs)
}

func (s *ServerLogic) ClearTransferQueue(req domain.RouterRequestClear) int {
	return s.service.ClearTransferQueue(domain.TaskStatus(req.Status))
}

func (s *ServerLogic) ClearShareQueue(req domain.RouterRequestClear) int {
	return s.service.ClearShareQueue(domain.TaskStatus(req.Status))
}

func (s *ServerLogic) ToggleAutoShare(id int64, autoShare bool) bool {
	return s.service.ToggleAutoShare(id, autoShare)
}

func (s *ServerLogic) ShareResults() []core.ShareResult {
	return s.service.ShareResults()
}

func (s *ServerLogic) SearchFiles(ctx context.Context, keyword, path string) ([]domain.FileEntry, error) {
	entries, err := s.service.SearchFiles(ctx, keyword, path)
	if err != nil {
		if err == errval.ErrNotLoggedIn {
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling service.SearchFiles", "error", err)
		return nil, errval.ErrInternal
	}

	return entries, nil
}
