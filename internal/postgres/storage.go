// Package postgres persists both task queues so an interrupted run can be
// resumed after login.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
)

type storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))

	if err != nil {
		return nil, err
	}

	return &storage{pool: pool}, nil
}

func (s *storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

const displayTimeLayout = "2006-01-02 15:04:05"

func metadataJSON(metadata map[string]string) (pgtype.JSONB, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return pgtype.JSONB{}, err
	}

	var meta pgtype.JSONB
	if err := meta.Set(jsonBytes); err != nil {
		return pgtype.JSONB{}, err
	}
	return meta, nil
}

func metadataMap(meta pgtype.JSONB) map[string]string {
	if meta.Status != pgtype.Present || len(meta.Bytes) == 0 {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(meta.Bytes, &out); err != nil {
		slog.Error("failed to unmarshal task metadata", "error", err.Error())
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

const fetchTransferTasksQuery = `
SELECT id, title, share_link, share_password, target_path, filename,
       status, error_message, auto_share, metadata, created_at
FROM transfer_tasks
WHERE account = $1
ORDER BY order_index, id`

func (s *storage) FetchTransferTasks(ctx context.Context, account string) ([]*domain.TransferTask, error) {
	rows, err := s.pool.Query(ctx, fetchTransferTasksQuery, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.TransferTask
	for rows.Next() {
		var (
			task      domain.TransferTask
			status    string
			meta      pgtype.JSONB
			createdAt time.Time
		)
		err := rows.Scan(&task.ID, &task.Title, &task.ShareLink, &task.SharePassword,
			&task.TargetPath, &task.Filename, &status, &task.ErrorMessage,
			&task.AutoShare, &meta, &createdAt)
		if err != nil {
			return nil, err
		}
		task.Status = domain.TaskStatus(status)
		task.Metadata = metadataMap(meta)
		task.CreatedAt = createdAt.Format(displayTimeLayout)
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

const insertTransferTaskQuery = `
INSERT INTO transfer_tasks
    (account, title, share_link, share_password, target_path, filename,
     status, error_message, auto_share, metadata, order_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
        (SELECT COALESCE(MAX(order_index), 0) + 1 FROM transfer_tasks WHERE account = $1))
RETURNING id`

func (s *storage) InsertTransferTask(ctx context.Context, account string, task *domain.TransferTask) (int64, error) {
	meta, err := metadataJSON(task.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, insertTransferTaskQuery,
		account, task.Title, task.ShareLink, task.SharePassword, task.TargetPath,
		task.Filename, string(task.Status), task.ErrorMessage, task.AutoShare, meta,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *storage) UpdateTransferTask(ctx context.Context, id int64, changes domain.TransferTaskChanges) error {
	var sets []string
	var args []interface{}

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.Status != nil {
		addSet("status", string(*changes.Status))
	}
	if changes.ErrorMessage != nil {
		addSet("error_message", *changes.ErrorMessage)
	}
	if changes.TargetPath != nil {
		addSet("target_path", *changes.TargetPath)
	}
	if changes.Filename != nil {
		addSet("filename", *changes.Filename)
	}
	if changes.AutoShare != nil {
		addSet("auto_share", *changes.AutoShare)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE transfer_tasks SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) DeleteTransferTask(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM transfer_tasks WHERE id = $1", id)
	return err
}

func (s *storage) ReorderTransferTasks(ctx context.Context, account string, orderedIDs []int64) error {
	return s.reorder(ctx, "transfer_tasks", account, orderedIDs)
}

func (s *storage) ClearTransferTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return s.clear(ctx, "transfer_tasks", account, status)
}

const fetchShareTasksQuery = `
SELECT id, title, fs_id, file_path, file_name, expiry_days, password_mode,
       share_password, share_link, status, error_message, metadata, created_at
FROM share_tasks
WHERE account = $1
ORDER BY order_index, id`

func (s *storage) FetchShareTasks(ctx context.Context, account string) ([]*domain.ShareTask, error) {
	rows, err := s.pool.Query(ctx, fetchShareTasksQuery, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.ShareTask
	for rows.Next() {
		var (
			task         domain.ShareTask
			status       string
			passwordMode string
			meta         pgtype.JSONB
			createdAt    time.Time
		)
		err := rows.Scan(&task.ID, &task.Title, &task.FsID, &task.FilePath,
			&task.FileName, &task.ExpiryDays, &passwordMode, &task.SharePassword,
			&task.ShareLink, &status, &task.ErrorMessage, &meta, &createdAt)
		if err != nil {
			return nil, err
		}
		task.Status = domain.TaskStatus(status)
		task.PasswordMode = domain.PasswordMode(passwordMode)
		task.Metadata = metadataMap(meta)
		task.CreatedAt = createdAt.Format(displayTimeLayout)
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

const insertShareTaskQuery = `
INSERT INTO share_tasks
    (account, title, fs_id, file_path, file_name, expiry_days, password_mode,
     share_password, share_link, status, error_message, metadata, order_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
        (SELECT COALESCE(MAX(order_index), 0) + 1 FROM share_tasks WHERE account = $1))
RETURNING id`

func (s *storage) InsertShareTask(ctx context.Context, account string, task *domain.ShareTask) (int64, error) {
	meta, err := metadataJSON(task.Metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, insertShareTaskQuery,
		account, task.Title, task.FsID, task.FilePath, task.FileName,
		task.ExpiryDays, string(task.PasswordMode), task.SharePassword,
		task.ShareLink, string(task.Status), task.ErrorMessage, meta,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *storage) UpdateShareTask(ctx context.Context, id int64, changes domain.ShareTaskChanges) error {
	var sets []string
	var args []interface{}

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.Status != nil {
		addSet("status", string(*changes.Status))
	}
	if changes.ErrorMessage != nil {
		addSet("error_message", *changes.ErrorMessage)
	}
	if changes.ShareLink != nil {
		addSet("share_link", *changes.ShareLink)
	}
	if changes.SharePassword != nil {
		addSet("share_password", *changes.SharePassword)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE share_tasks SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) DeleteShareTask(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM share_tasks WHERE id = $1", id)
	return err
}

func (s *storage) ReorderShareTasks(ctx context.Context, account string, orderedIDs []int64) error {
	return s.reorder(ctx, "share_tasks", account, orderedIDs)
}

func (s *storage) ClearShareTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return s.clear(ctx, "share_tasks", account, status)
}

// reorder rewrites order_index for the named ids inside one transaction and
// deletes the account's rows that were omitted, mirroring the in-memory
// reorder semantics.
func (s *storage) reorder(ctx context.Context, table, account string, orderedIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	rollback := func() {
		if err2 := tx.Rollback(ctx); err2 != nil && err2 != pgx.ErrTxClosed {
			slog.Error("Error occurred while rolling back transaction", "error", err2.Error())
		}
	}

	updateQuery := fmt.Sprintf("UPDATE %s SET order_index = $1, updated_at = now() WHERE id = $2 AND account = $3", table)
	for i, id := range orderedIDs {
		if _, err := tx.Exec(ctx, updateQuery, i+1, id, account); err != nil {
			rollback()
			return err
		}
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE account = $1 AND NOT (id = ANY($2))", table)
	if _, err := tx.Exec(ctx, deleteQuery, account, orderedIDs); err != nil {
		rollback()
		return err
	}

	return tx.Commit(ctx)
}

// RequeueTransferTasks flips tasks in the given terminal status back to
// pending so the next hydration picks them up again.
func (s *storage) RequeueTransferTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return s.requeue(ctx, "transfer_tasks", account, status)
}

func (s *storage) RequeueShareTasks(ctx context.Context, account string, status domain.TaskStatus) (int64, error) {
	return s.requeue(ctx, "share_tasks", account, status)
}

func (s *storage) requeue(ctx context.Context, table, account string, status domain.TaskStatus) (int64, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET status = 'pending', error_message = '', updated_at = now() WHERE account = $1 AND status = $2",
		table)
	tag, err := s.pool.Exec(ctx, query, account, string(status))
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (s *storage) clear(ctx context.Context, table, account string, status domain.TaskStatus) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	if status == "" {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE account = $1", table), account)
	} else {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE account = $1 AND status = $2", table), account, string(status))
	}
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
