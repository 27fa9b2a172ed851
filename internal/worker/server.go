package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/tasks"
)

// WorkerServer runs the asynq worker consuming the shared critical queue and this shard's queue.
type WorkerServer struct {
	server *asynq.Server
	log    *logrus.Entry
	reset  *VBrowserResetHandler
	flush  *RoomFlushHandler
}

// NewWorkerServer creates a WorkerServer for shardID.
func NewWorkerServer(redisOpt asynq.RedisConnOpt, shardID int, terminator Terminator, flusher Flusher, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.QueueCritical:       6,
				tasks.ShardQueue(shardID): 3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID(task),
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger: logEntry,
		},
	)

	return &WorkerServer{
		server: server,
		log:    logEntry,
		reset:  NewVBrowserResetHandler(terminator),
		flush:  NewRoomFlushHandler(flusher),
	}
}

// Start runs the worker. It blocks and is meant to be called in its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeVBrowserReset, ws.reset.ProcessTask)
	mux.HandleFunc(tasks.TypeRoomFlush, ws.flush.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown stops the worker, waiting for in-flight tasks.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}

// taskID is empty for tasks that were not dequeued by a server, as in tests.
func taskID(t *asynq.Task) string {
	if rw := t.ResultWriter(); rw != nil {
		return rw.TaskID()
	}
	return ""
}
