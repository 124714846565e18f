package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Loop runs one sweeper on a fixed interval until stopped.
type Loop struct {
	sweeper  Sweeper
	interval time.Duration
	locker   Locker
	log      *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewLoop creates a loop. locker may be nil for single-instance deployments.
func NewLoop(s Sweeper, interval time.Duration, locker Locker, log *logrus.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{sweeper: s, interval: interval, locker: locker, log: log}
}

// Start launches the loop. Calling Start on a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(ctx, l.done)

	l.log.WithFields(logrus.Fields{
		"sweeper":  l.sweeper.Name(),
		"interval": l.interval.String(),
	}).Info("Sweeper started")
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.mu.Unlock()

	cancel()
	<-done
	l.log.WithField("sweeper", l.sweeper.Name()).Info("Sweeper stopped")
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunGuarded(ctx, l.sweeper, l.locker, l.interval, l.log)
		}
	}
}

// RunGuarded runs one pass under the sweeper's lease, if a locker is set.
// A pass is bounded by timeout. Errors are logged, not returned, so a failing
// pass never stops its schedule.
func RunGuarded(ctx context.Context, s Sweeper, locker Locker, timeout time.Duration, log *logrus.Logger) {
	logger := log.WithField("sweeper", s.Name())

	if locker != nil {
		release, ok, err := locker.TryLock(ctx, s.Name())
		if err != nil {
			logger.WithError(err).Warn("Could not acquire sweep lock")
			return
		}
		if !ok {
			logger.Debug("Sweep already running elsewhere")
			return
		}
		defer release()
	}

	passCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Sweep panicked")
		}
	}()

	start := time.Now()
	if err := s.SweepOnce(passCtx); err != nil {
		logger.WithError(err).Error("Sweep failed")
		return
	}
	logger.WithField("took", time.Since(start).String()).Debug("Sweep finished")
}
