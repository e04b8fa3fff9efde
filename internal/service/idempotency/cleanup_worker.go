// Package idempotency содержит фоновую очистку ключей идемпотентности.
// Ключи защищают повторные checkout-запросы; после истечения TTL они
// только занимают место и подлежат удалению.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candleshop_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candleshop_idempotency_cleanup_deleted_total",
		Help: "Total number of deleted expired idempotency records.",
	})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candleshop_idempotency_cleanup_last_deleted",
		Help: "Number of deleted records during the last cleanup run.",
	})
)

// CleanupConfig задаёт параметры очистки. Нулевые значения заменяются
// значениями по умолчанию.
type CleanupConfig struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.Logger == nil {
		c.Logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if c.Interval <= 0 {
		c.Interval = defaultCleanupInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultCleanupBatchSize
	}
	return c
}

// CleanupWorker периодически удаляет просроченные ключи идемпотентности
// checkout-запросов.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	cfg  CleanupConfig
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, cfg CleanupConfig) *CleanupWorker {
	return &CleanupWorker{repo: repo, cfg: cfg.withDefaults()}
}

// Run запускает периодическую очистку до отмены ctx. Первый проход
// выполняется сразу, не дожидаясь интервала.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.cfg.Logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.cfg.Logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.cfg.Logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// DeleteExpired удаляет записи с ttl <= before порциями BatchSize, пока
// они не закончатся. Возвращает суммарное число удалённых записей.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.cfg.BatchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			idempotencyCleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.cfg.BatchSize {
			return total, nil
		}
	}
}
