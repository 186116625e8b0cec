// Requeue flips failed or skipped tasks back to pending in the store, so the
// next login hydrates them into the queue for another attempt.
//
// Usage: requeue <transfer|share> <failed|skipped>
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/fewk2/panbutler/configs"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/postgres"
)

func main() {
	cfg := configs.InitConfig()
	args := os.Args
	if len(args) < 3 {
		log.Fatal("Insufficient arguments are provided in calling the command")
		return
	}

	kind := args[1]
	if kind != "transfer" && kind != "share" {
		slog.Error("queue kind must be transfer or share", "provided_kind", kind)
		return
	}

	taskStatus := domain.TaskStatus(args[2])
	if taskStatus != domain.Failed && taskStatus != domain.Skipped {
		slog.Error("only failed and skipped tasks can be re-queued", "provided_task_status", taskStatus)
		return
	}

	ctx := context.Background()
	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("Postgres connection has been initialized successfully")

	var requeued int64
	if kind == "transfer" {
		requeued, err = storage.RequeueTransferTasks(ctx, cfg.Pan.Account, taskStatus)
	} else {
		requeued, err = storage.RequeueShareTasks(ctx, cfg.Pan.Account, taskStatus)
	}
	if err != nil {
		slog.Error("Error occurred while re-queueing tasks", "error", err.Error())
		return
	}

	slog.Info("Tasks have been re-queued", "kind", kind, "task_status", taskStatus, "requeued_count", requeued)
}
