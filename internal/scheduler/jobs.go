/**
 * @description
 * Scheduled job implementations for the reminder scheduler.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/subtrack/subscription-service/internal/config"
	"github.com/subtrack/subscription-service/pkg/dispatchclient"
)

// DispatchClient triggers the reminder sweep on the API service.
type DispatchClient interface {
	RunReminderDispatch(ctx context.Context, date *string) (*dispatchclient.Summary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	dispatch DispatchClient
	logger   *slog.Logger
	config   config.SchedulerConfig
}

// NewJobs creates a new Jobs runner.
func NewJobs(dispatch DispatchClient, logger *slog.Logger, cfg config.SchedulerConfig) *Jobs {
	return &Jobs{
		dispatch: dispatch,
		logger:   logger,
		config:   cfg,
	}
}

// DispatchReminders asks the API to run today's reminder sweep. The API owns
// the business day; the scheduler only decides when to ask.
func (j *Jobs) DispatchReminders() {
	j.logger.Info("starting reminder dispatch job")

	timeout := j.config.DispatchTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, err := j.dispatch.RunReminderDispatch(ctx, nil)
	if err != nil {
		j.logger.Error("failed to run reminder dispatch", "error", err)
		return
	}

	if summary.AlreadyRunning {
		j.logger.Info("reminder dispatch already running elsewhere, skipped", "dispatch_date", summary.DispatchDate)
		return
	}

	j.logger.Info("reminder dispatch job finished",
		"dispatch_date", summary.DispatchDate,
		"evaluated", summary.Evaluated,
		"due", summary.Due,
		"notifications_created", summary.NotificationsCreated,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"already_sent", summary.AlreadySent,
		"skipped_no_recipient", summary.SkippedNoRecipient,
	)
	if summary.Failed > 0 {
		j.logger.Warn("some reminder emails failed and will be retried on the next run", "failed", summary.Failed)
	}
}
