package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/apperrors"
	"EscrowEngine/internal/metrics"
	"EscrowEngine/internal/models"
	"EscrowEngine/internal/repositories"
)

const sweepLockKey = "escrow:sweeper:lock"

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

// SweepResult counts what one pass did with each due transaction.
type SweepResult struct {
	Expired int `json:"expired"`
	Settled int `json:"settled"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExpirySweeper refunds escrow holds past their deadline and settles
// confirmed transactions past the settlement delay. All state comes from
// the database, so a restart loses nothing.
type ExpirySweeper struct {
	escrow *EscrowService
	store  repositories.Store
	locker Locker
	cfg    SweeperConfig
	log    *logrus.Entry
}

// NewExpirySweeper builds a sweeper. locker may be nil for a single replica.
func NewExpirySweeper(escrow *EscrowService, locker Locker, cfg SweeperConfig, log *logrus.Entry) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &ExpirySweeper{
		escrow: escrow,
		store:  escrow.store,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ExpirySweeper) runOnce(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.WithError(err).Error("Expiry sweep failed")
	}
	if result.Expired+result.Settled+result.Skipped+result.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"expired": result.Expired,
			"settled": result.Settled,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		}).Info("Expiry sweep finished")
	}
}

// Sweep runs one pass. Per-transaction failures are counted and logged;
// only a failure to list candidates aborts the pass.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	start := time.Now()

	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return result, err
		}
		if !acquired {
			metrics.SweepRuns.WithLabelValues("lock_held").Inc()
			s.log.Debug("Another replica holds the sweep lock")
			return result, nil
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey); err != nil {
				s.log.WithError(err).Warn("Failed to release sweep lock")
			}
		}()
	}

	err := s.drain(ctx, &result, &result.Expired,
		func(now time.Time) ([]models.Transaction, error) {
			return s.store.Transactions().ListExpired(ctx, now, s.cfg.BatchSize)
		},
		s.escrow.expire,
	)
	if err == nil {
		err = s.drain(ctx, &result, &result.Settled,
			func(now time.Time) ([]models.Transaction, error) {
				return s.store.Transactions().ListSettleable(ctx, now.Add(-s.escrow.settlementDelay), s.cfg.BatchSize)
			},
			func(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
				return s.escrow.apply(ctx, SystemActor, t, s.escrow.settleTransition())
			},
		)
	}

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweepItems.WithLabelValues("expired").Add(float64(result.Expired))
	metrics.SweepItems.WithLabelValues("settled").Add(float64(result.Settled))
	metrics.SweepItems.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.SweepItems.WithLabelValues("failed").Add(float64(result.Failed))
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return result, err
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	return result, nil
}

// drain handles batches from list until a batch comes back short or holds
// nothing new. An unavailable dependency ends the pass. Each transaction is its own atomic unit; no lock spans a batch.
func (s *ExpirySweeper) drain(
	ctx context.Context,
	result *SweepResult,
	done *int,
	list func(now time.Time) ([]models.Transaction, error),
	handle func(ctx context.Context, t *models.Transaction) (*models.Transaction, error),
) error {
	attempted := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := list(s.escrow.now())
		if err != nil {
			return err
		}

		fresh := 0
		for i := range batch {
			t := &batch[i]
			if attempted[t.ID] {
				continue
			}
			attempted[t.ID] = true
			fresh++

			if _, err := handle(ctx, t); err != nil {
				switch {
				case errors.Is(err, apperrors.ErrStaleState), errors.Is(err, apperrors.ErrInvalidTransition):
					result.Skipped++
				case errors.Is(err, apperrors.ErrUnavailable):
					result.Failed++
					return err
				default:
					result.Failed++
					s.log.WithField("transaction_id", t.ID).WithError(err).Error("Sweeper failed to transition transaction")
				}
				continue
			}
			*done++
		}

		if len(batch) < s.cfg.BatchSize || fresh == 0 {
			return nil
		}
	}
}
