// Package sweeper expires unpaid orders whose stock hold has lapsed.
package sweeper

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/metrics"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

const lockName = "order-sweeper"

// Expirer ends one lapsed order. order.Service satisfies it.
type Expirer interface {
	Expire(ctx context.Context, orderID string, now time.Time) (bool, error)
}

// Locker keeps concurrent replicas from sweeping together. lock.Redis
// satisfies it.
type Locker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

type Sweeper struct {
	db     *db.DB
	orders Expirer
	lock   Locker
	cfg    Config
	owner  string
	log    *logger.Logger
	now    func() time.Time
}

// New builds a sweeper. lock may be nil when only one replica runs.
func New(d *db.DB, orders Expirer, lock Locker, cfg Config, log *logger.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	host, _ := os.Hostname()
	return &Sweeper{
		db:     d,
		orders: orders,
		lock:   lock,
		cfg:    cfg,
		owner:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep expires every PENDING order past its hold and returns how many it
// expired. Failures on single orders are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, lockName, s.owner, s.cfg.LockTTL)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.log.Debug("SWEEPER", "another replica holds the sweep lock")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), lockName, s.owner); err != nil {
				s.log.Warn("SWEEPER", err.Error())
			}
		}()
	}

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	expired := 0
	for {
		ids, err := s.db.ListExpiredOrderIDs(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return expired, err
		}
		progressed := false
		for _, id := range ids {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			ok, err := s.orders.Expire(ctx, id, now)
			if err != nil {
				metrics.SweepFailures.Inc()
				s.log.Error("SWEEPER", fmt.Sprintf("expire order %s: %v", id, err))
				continue
			}
			if ok {
				expired++
				progressed = true
				metrics.SweepExpired.Inc()
			}
		}
		if len(ids) < s.cfg.BatchSize || !progressed {
			break
		}
	}

	if expired > 0 {
		s.log.LogProcess("SWEEPER", fmt.Sprintf("expired %d orders", expired))
	}
	return expired, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("SWEEPER", fmt.Sprintf("sweep failed: %v", err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.log.LogProcess("SWEEPER", fmt.Sprintf("sweeping every %s as %s", s.cfg.Interval, s.owner))
	sched.Start()
	<-ctx.Done()
	return sched.Shutdown()
}
