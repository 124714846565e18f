package worker

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// StartScheduler creates and starts an asynq Scheduler that enqueues each
// sweep at its interval. Returns a stop function for graceful shutdown.
func StartScheduler(redisOpt asynq.RedisConnOpt, sweeps []Sweep, log *logrus.Logger) (stop func(), err error) {
	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynqLogLevel(log.GetLevel()),
			Logger:   newAsynqLogger(log),
		},
	)

	for _, s := range sweeps {
		spec := cronSpec(s.Interval)
		entryID, err := scheduler.Register(spec, newSweepTask(s.TaskType, s.Interval))
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.TaskType, err)
		}
		log.WithFields(logrus.Fields{
			"task_type": s.TaskType,
			"schedule":  spec,
			"entry_id":  entryID,
		}).Info("Periodic sweep registered")
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	return func() { scheduler.Shutdown() }, nil
}

// cronSpec expresses an interval in the scheduler's @every syntax.
func cronSpec(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Minute
	}
	return fmt.Sprintf("@every %s", interval)
}
