package notify

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *zap.Logger
}

func NewWorker(redis asynq.RedisClientOpt, concurrency int, h *Handlers, log *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			Queue: 1,
		},
		Logger: log.Named("asynq").Sugar(),
	})

	mux := asynq.NewServeMux()
	h.Register(mux)

	return &Worker{srv: srv, mux: mux, log: log}
}

// Start returns once the processors are running.
func (w *Worker) Start() error {
	w.log.Info("notification worker starting", zap.String("queue", Queue))
	return w.srv.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
	w.log.Info("notification worker stopped")
}
