package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "0 */10 * * * *"
	lockKey         = "billing:lock:reconcile"
)

// ErrLocked is returned by RunLocked when another instance holds the lock.
var ErrLocked = errors.New("reconciliation already running")

// Runner is the work a scheduler performs.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler runs a Runner on a cron schedule, one instance at a time across
// the fleet.
type Scheduler struct {
	cron    *cron.Cron
	rs      *redsync.Redsync
	runner  Runner
	timeout time.Duration
}

// NewScheduler parses schedule (six fields, seconds first) and prepares the
// distributed lock on client.
func NewScheduler(client redis.UniversalClient, runner Runner, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		rs:      redsync.New(goredis.NewPool(client)),
		runner:  runner,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	log.Info("[Reconcile] scheduler started")
	s.cron.Start()
}

// Stop waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Reconcile] scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.RunLocked(ctx)
	switch {
	case errors.Is(err, ErrLocked):
		log.Debug("[Reconcile] skipped, another instance is running")
	case err != nil:
		log.Errorf("[Reconcile] run failed: %v", err)
	}
}

// RunLocked runs once while holding the fleet-wide lock.
func (s *Scheduler) RunLocked(ctx context.Context) (*Report, error) {
	mutex := s.rs.NewMutex(lockKey,
		redsync.WithExpiry(s.timeout),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("[Reconcile] unlock failed: %v", err)
		}
	}()

	return s.runner.Run(ctx)
}
