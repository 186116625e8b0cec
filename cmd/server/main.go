package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fewk2/panbutler/configs"
	db2 "github.com/fewk2/panbutler/db"
	"github.com/fewk2/panbutler/internal/core"
	"github.com/fewk2/panbutler/internal/domain"
	"github.com/fewk2/panbutler/internal/errval"
	"github.com/fewk2/panbutler/internal/pan"
	"github.com/fewk2/panbutler/internal/postgres"
	"github.com/fewk2/panbutler/internal/redis"
	"github.com/fewk2/panbutler/internal/server"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var postgresIsReady, redisIsReady bool

func main() {
	cfg := configs.InitConfig()

	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
		return
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
		return
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal(err)
		}
	}
	slog.Info("Migrations ran successfully")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	sessions, err := redis.NewSessionStore(cfg.RedisConfig.ToRedisConnectionUri(), cfg.RedisConfig.SessionTTL())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = sessions.Close()
		if err != nil {
			slog.Error("An error occurred while closing Redis connection", "error", err.Error())
		}
	}()
	redisIsReady = true
	slog.Info("Redis connection has been initialized successfully")

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	client := pan.NewClient(cfg.Pan)
	service := core.New(cfg, client, storage, sessions, cfg.Pan.Account)
	defer service.Close()

	// An earlier run may have left a usable cookie behind.
	if err := service.ResumeSession(ctx); err != nil {
		if !errors.Is(err, errval.ErrNotFound) {
			slog.Warn("could not resume cached session", "error", err.Error())
		}
	}

	router := setupHTTPServer(cfg, service, storage, sessions)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		log.Printf("Starting server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func setupHTTPServer(cfg *configs.Config, service *core.Service, storage domain.TaskStore, sessions domain.SessionStore) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_status", validateStatus)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_status")
		}

		err = v.RegisterValidation("validate_expiry", validateExpiry)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_expiry")
		}
	}

	serverLogic := server.NewServerLogic(service)

	r.POST("/session", func(c *gin.Context) {
		req := domain.RouterRequestLogin{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		if err := serverLogic.Login(c, req); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "login failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "logged_in"})
	})

	transfers := r.Group("/transfers")
	transfers.POST("/import", func(c *gin.Context) {
		req := domain.RouterRequestImportTransfers{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		imported, err := serverLogic.ImportTransfers(c, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"imported": imported})
	})

	transfers.POST("/start", func(c *gin.Context) {
		startWorker(c, serverLogic.StartTransfer)
	})
	transfers.POST("/pause", func(c *gin.Context) {
		serverLogic.PauseTransfer()
		c.JSON(http.StatusOK, gin.H{"status": "paused"})
	})
	transfers.POST("/resume", func(c *gin.Context) {
		serverLogic.ResumeTransfer()
		c.JSON(http.StatusOK, gin.H{"status": "resumed"})
	})
	transfers.POST("/stop", func(c *gin.Context) {
		serverLogic.StopTransfer()
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	transfers.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": serverLogic.TransferTasks()})
	})
	transfers.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, serverLogic.TransferStatus())
	})

	transfers.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		if !serverLogic.RemoveTransferTask(id) {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	})

	transfers.POST("/reorder", func(c *gin.Context) {
		req := domain.RouterRequestReorder{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		if !serverLogic.ReorderTransferTasks(req) {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "reordered"})
	})

	transfers.POST("/clear", func(c *gin.Context) {
		req := domain.RouterRequestClear{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		removed := serverLogic.ClearTransferQueue(req)
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	})

	transfers.POST("/:id/auto_share", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		req := domain.RouterRequestToggleAutoShare{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		if !serverLogic.ToggleAutoShare(id, *req.Enabled) {
			c.JSON(http.StatusNotFound, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	})

	shares := r.Group("/shares")
	shares.POST("/import", func(c *gin.Context) {
		req := domain.RouterRequestImportShares{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		added, err := serverLogic.ImportShares(c, req, cfg.DefaultShareExpiryDays)
		if err != nil {
			if err == errval.ErrNotLoggedIn {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"added": added})
	})

	shares.POST("/start", func(c *gin.Context) {
		startWorker(c, serverLogic.StartShare)
	})
	shares.POST("/pause", func(c *gin.Context) {
		serverLogic.PauseShare()
		c.JSON(http.StatusOK, gin.H{"status": "paused"})
	})
	shares.POST("/resume", func(c *gin.Context) {
		serverLogic.ResumeShare()
		c.JSON(http.StatusOK, gin.H{"status": "resumed"})
	})
	shares.POST("/stop", func(c *gin.Context) {
		serverLogic.StopShare()
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	shares.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": serverLogic.ShareTasks()})
	})
	shares.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, serverLogic.ShareStatus())
	})
	shares.GET("/results", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"results": serverLogic.ShareResults()})
	})

	shares.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		if !serverLogic.RemoveShareTask(id) {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	})

	shares.POST("/reorder", func(c *gin.Context) {
		req := domain.RouterRequestReorder{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		if !serverLogic.ReorderShareTasks(req) {
			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "reordered"})
	})

	shares.POST("/clear", func(c *gin.Context) {
		req := domain.RouterRequestClear{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		removed := serverLogic.ClearShareQueue(req)
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	})

	r.GET("/files/search", func(c *gin.Context) {
		keyword := c.Query("keyword")
		path := c.DefaultQuery("path", "/")

		entries, err := serverLogic.SearchFiles(c, keyword, path)
		if err != nil {
			if err == errval.ErrNotLoggedIn {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"files": entries})
	})

	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && redisIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		err := storage.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		if err := sessions.Ping(c); err != nil {
			slog.Error("Redis seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func startWorker(c *gin.Context, start func() error) {
	err := start()
	if err != nil {
		switch err {
		case errval.ErrNotLoggedIn:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		case errval.ErrAlreadyRuns:
			c.JSON(http.StatusConflict, gin.H{"error": "already running"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func parseIDParam(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		slog.Error("Invalid id parameter, error occurred while casting id str to int", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}

	return id, true
}

var validateStatus validator.Func = func(fl validator.FieldLevel) bool {
	status := fl.Field().String()
	switch status {
	case string(domain.Pending), string(domain.Running), string(domain.Completed),
		string(domain.Failed), string(domain.Skipped):
		return true
	default:
		return false
	}
}

// The remote service only honors a fixed set of share validity periods.
var validateExpiry validator.Func = func(fl validator.FieldLevel) bool {
	switch fl.Field().Int() {
	case 0, 1, 7, 30:
		return true
	default:
		return false
	}
}
