package domain

import "context"

// TaskStore is the durable mirror of both queues. The engine treats in-memory
// state as authoritative; store writes are best-effort and failures are logged
// rather than rolled back.
type TaskStore interface {
	Ping(ctx context.Context) (err error)

	FetchTransferTasks(ctx context.Context, account string) ([]*TransferTask, error)
	InsertTransferTask(ctx context.Context, account string, task *TransferTask) (int64, error)
	UpdateTransferTask(ctx context.Context, id int64, changes TransferTaskChanges) error
	DeleteTransferTask(ctx context.Context, id int64) error
	ReorderTransferTasks(ctx context.Context, account string, orderedIDs []int64) error
	ClearTransferTasks(ctx context.Context, account string, status TaskStatus) (int64, error)

	FetchShareTasks(ctx context.Context, account string) ([]*ShareTask, error)
	InsertShareTask(ctx context.Context, account string, task *ShareTask) (int64, error)
	UpdateShareTask(ctx context.Context, id int64, changes ShareTaskChanges) error
	DeleteShareTask(ctx context.Context, id int64) error
	ReorderShareTasks(ctx context.Context, account string, orderedIDs []int64) error
	ClearShareTasks(ctx context.Context, account string, status TaskStatus) (int64, error)
}
