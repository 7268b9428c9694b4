package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/lease"
	"github.com/Shoto0095/rafiki/internal/metrics"
	"github.com/Shoto0095/rafiki/internal/observability"
	"github.com/Shoto0095/rafiki/internal/signal"
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// LeaseTTL is renewed before every step and wait, so it must exceed the longest single
	// transmission.
	LeaseTTL  time.Duration
	BatchSize int
	// MaxInlineWait is the longest retry wait a worker sleeps through while holding the
	// lease. Longer waits release the payment back to the poller.
	MaxInlineWait time.Duration
}

// Worker drives runnable payments to completion. Several workers, in one process or many,
// may run against the same store: the lease keeps each payment on one worker at a time.
type Worker struct {
	uc     *PaymentUsecase
	leases lease.Manager
	bus    signal.Bus
	cfg    WorkerConfig
	logger *zap.Logger
}

func NewWorker(uc *PaymentUsecase, leases lease.Manager, bus signal.Bus, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxInlineWait <= 0 || cfg.MaxInlineWait > cfg.LeaseTTL/2 {
		cfg.MaxInlineWait = cfg.LeaseTTL / 2
	}
	return &Worker{
		uc:     uc,
		leases: leases,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "payment_worker")),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("payment worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("lease_ttl", w.cfg.LeaseTTL))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payment worker stopped")
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("worker tick failed", zap.Error(err))
			}
		}
	}
}

// Tick processes one batch of runnable payments and sweeps unsettled reservations.
func (w *Worker) Tick(ctx context.Context) error {
	if n, err := w.uc.Settle(ctx, w.cfg.BatchSize); err != nil {
		w.logger.Warn("settlement sweep failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("settlement sweep recovered reservations", zap.Int("count", n))
	}

	batch, err := w.uc.repo.ListRunnable(ctx, w.uc.now(), w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list runnable payments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, p := range batch {
		p := p
		g.Go(func() error {
			w.process(gctx, p)
			return nil
		})
	}
	return g.Wait()
}

// process owns p under a lease and steps it until it is terminal, conflicts, or has to wait
// longer than MaxInlineWait.
func (w *Worker) process(ctx context.Context, p *domain.OutgoingPayment) {
	key := lease.PaymentKey(p.ID.String())
	token, err := w.leases.Acquire(ctx, key, w.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.WorkerClaims.WithLabelValues("busy").Inc()
			return
		}
		metrics.WorkerClaims.WithLabelValues("error").Inc()
		w.logger.Warn("failed to acquire payment lease", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return
	}
	metrics.WorkerClaims.WithLabelValues("acquired").Inc()
	defer func() {
		if err := w.leases.Release(context.Background(), key, token); err != nil {
			w.logger.Warn("failed to release payment lease", zap.String("payment_id", p.ID.String()), zap.Error(err))
		}
	}()

	ctx, span := observability.Tracer().Start(ctx, "payment.process")
	span.SetAttributes(attribute.String("payment.id", p.ID.String()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("payment step panic", zap.String("payment_id", p.ID.String()), zap.Any("panic", r))
		}
	}()

	signals, unsubscribe := w.bus.Subscribe(p.ID.String())
	defer unsubscribe()

	// reload under the lease, the polled copy may be stale
	cur, err := w.uc.Get(ctx, p.ID)
	if err != nil {
		w.logger.Warn("failed to load payment", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return
	}

	for !cur.State.IsTerminal() {
		if cur.RetryAt != nil {
			wait := cur.RetryAt.Sub(w.uc.now())
			if wait > w.cfg.MaxInlineWait {
				return
			}
			if wait > 0 {
				if !w.renew(ctx, key, token) || !w.wait(ctx, wait, signals) {
					return
				}
				if cur, err = w.uc.Get(ctx, p.ID); err != nil || cur.State.IsTerminal() {
					return
				}
			}
		}

		// a full ttl must cover the step, including the transmission
		if !w.renew(ctx, key, token) {
			return
		}
		next, err := w.uc.Step(ctx, cur)
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, context.Canceled) {
				w.logger.Warn("payment step failed",
					zap.String("payment_id", p.ID.String()),
					zap.String("state", string(cur.State)),
					zap.Error(err))
			}
			return
		}
		cur = next
	}
}

// renew extends the lease by a full ttl. It reports false once the lease is lost, in which
// case the payment may already belong to another worker and must not be stepped.
func (w *Worker) renew(ctx context.Context, key, token string) bool {
	if err := w.leases.Extend(ctx, key, token, w.cfg.LeaseTTL); err != nil {
		result := "lost"
		if !errors.Is(err, domain.ErrConflict) {
			result = "extend_error"
		}
		metrics.WorkerClaims.WithLabelValues(result).Inc()
		w.logger.Warn("payment lease not renewed, letting go",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

// wait sleeps for d. It returns false when ctx is done or a cancel signal arrived.
func (w *Worker) wait(ctx context.Context, d time.Duration, signals <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-signals:
		w.logger.Debug("retry wait interrupted by cancel signal")
		return false
	case <-timer.C:
		return true
	}
}
