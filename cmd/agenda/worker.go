package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agenda/backend/internal/notify"
	"agenda/backend/internal/store/postgres"
)

func workerCmd() *cobra.Command {
	var noReminders bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process notification tasks and schedule booking reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("agenda-worker")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			redisOpt := asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisQueueDB,
			}

			handlers := notify.NewHandlers(notify.NewLogMailer(log.Named("mail")), log)
			worker := notify.NewWorker(redisOpt, cfg.WorkerConcurrency, handlers, log)
			if err := worker.Start(); err != nil {
				return err
			}
			defer worker.Shutdown()

			if !noReminders {
				db, err := openDatabase(ctx, cfg, log)
				if err != nil {
					return err
				}
				defer closeDatabase(db, log)

				queue := asynq.NewClient(redisOpt)
				defer func() { _ = queue.Close() }()

				sweeper := notify.NewReminderSweeper(
					postgres.NewBookingRepo(db),
					notify.NewEnqueuer(queue, reminderRetention(cfg), log),
					cfg.ReminderLead,
					log.With(zap.String("component", "reminders")),
				)
				if err := sweeper.Start(cfg.ReminderSchedule); err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			<-ctx.Done()
			log.Info("shutdown signal received")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noReminders, "no-reminders", false, "only process queued tasks; do not schedule reminders")
	return cmd
}
