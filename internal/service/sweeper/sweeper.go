package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/josh-kwaku/supportdesk-payments/internal/domain"
	"github.com/josh-kwaku/supportdesk-payments/internal/lease"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/metrics"
	"github.com/josh-kwaku/supportdesk-payments/internal/service/record"
)

type recordStore interface {
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRecord, error)
	Save(ctx context.Context, p *domain.PaymentRecord, ch record.Change) error
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Sweeper expires live records whose deadline has passed. Each record is
// expired through the same compare-and-swap as every other writer, so a
// record decided mid-sweep is left alone.
type Sweeper struct {
	records recordStore
	lease   lease.Lease
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func New(records recordStore, l lease.Lease, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		records: records,
		lease:   l,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("expiry sweeper started", "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every record that is due, one batch at a time, and
// returns how many it expired. Only the lease holder sweeps.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx = logging.WithLogger(ctx, s.logger)

	ok, err := s.lease.Acquire(ctx, s.cfg.Interval)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Debug("expiry sweep skipped, lease held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := s.lease.Release(ctx); err != nil {
			s.logger.Warn("failed to release sweep lease", "error", err)
		}
	}()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	total := 0
	for {
		due, err := s.records.ListExpirable(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			break
		}

		expired, skipped := s.expireBatch(ctx, due, now)
		total += expired
		// Stop when nothing in the batch moved; otherwise the same failing
		// records would be fetched forever.
		if expired == 0 || len(due) < s.cfg.BatchSize {
			if skipped > 0 {
				s.logger.Info("expiry sweep left records for next pass", "count", skipped)
			}
			break
		}
	}

	if total > 0 {
		s.logger.Info("expiry sweep complete", "expired", total, "duration_ms", time.Since(start).Milliseconds())
	}
	return total, nil
}

func (s *Sweeper) expireBatch(ctx context.Context, due []*domain.PaymentRecord, now time.Time) (expired, skipped int) {
	var (
		wg       sync.WaitGroup
		done     atomic.Int64
		failures atomic.Int64
		sem      = make(chan struct{}, s.cfg.Concurrency)
	)

	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(p *domain.PaymentRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			if s.expire(ctx, p, now) {
				done.Add(1)
			} else {
				failures.Add(1)
			}
		}(p)
	}
	wg.Wait()
	return int(done.Load()), int(failures.Load())
}

func (s *Sweeper) expire(ctx context.Context, p *domain.PaymentRecord, now time.Time) bool {
	from := p.Status
	if err := p.Expire(now); err != nil {
		s.logger.Info("record not expirable, skipping", "payment_id", p.ID, "status", from, "error", err)
		return false
	}

	err := s.records.Save(ctx, p, record.Change{From: from, Actor: domain.ActorSweeper})
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrConcurrentModification):
		s.logger.Info("record changed during sweep, skipping", "payment_id", p.ID)
	default:
		s.logger.Error("failed to expire record", "payment_id", p.ID, "error", err)
	}
	return false
}
