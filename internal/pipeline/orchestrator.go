// Package pipeline drives statements from claim to valuation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"cas-valuer/internal/config"
	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/logging"
	"cas-valuer/internal/models"
	"cas-valuer/internal/normalize"
	"cas-valuer/internal/notify"
	"cas-valuer/internal/store"
	"cas-valuer/internal/valuation"
)

// Stage is a step of the per-statement state machine.
type Stage string

const (
	StageDiscovered            Stage = "discovered"
	StageClaimed               Stage = "claimed"
	StageNormalized            Stage = "normalized"
	StageSchemesPersisted      Stage = "schemes-persisted"
	StageTransactionsPersisted Stage = "transactions-persisted"
	StageQuotesFetched         Stage = "quotes-fetched"
	StageValuationComputed     Stage = "valuation-computed"
	StageValuationPersisted    Stage = "valuation-persisted"
	StageCompleted             Stage = "completed"
	StageFailed                Stage = "failed"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.LockManager
	store.Gateway
	store.Reader
}

// Collector fetches and stores the quotes of one holding.
type Collector interface {
	Collect(ctx context.Context, amfi string) ([]models.Quote, error)
}

// Orchestrator processes claimable statements.
type Orchestrator struct {
	store     Store
	collector Collector
	notifier  notify.Notifier
	holdings  *keyedMutex
	cfg       config.PipelineConfig
	logger    zerolog.Logger
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock locks key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// RunSummary counts what one pass did.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Discovered int    `json:"discovered"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}

// New creates an Orchestrator.
func New(st Store, collector Collector, cfg config.PipelineConfig, logger zerolog.Logger) *Orchestrator {
	if cfg.StatementWorkers < 1 {
		cfg.StatementWorkers = 1
	}
	if cfg.HoldingConcurrency < 1 {
		cfg.HoldingConcurrency = 1
	}
	return &Orchestrator{
		store:     st,
		collector: collector,
		notifier:  notify.NewNoOpNotifier(),
		holdings:  newKeyedMutex(),
		cfg:       cfg,
		logger:    logger,
	}
}

// WithNotifier reports every finished statement to n.
func (o *Orchestrator) WithNotifier(n notify.Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return apperrors.NewValidationError("interval", interval, "must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error().Err(err).Msg("Pipeline pass failed")
		}

		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Pipeline stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes every statement that is claimable right now.
func (o *Orchestrator) RunOnce(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString()}
	logger := logging.WithRun(o.logger, summary.RunID)

	ids, err := o.store.ListClaimable(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list claimable statements: %w", err)
	}
	summary.Discovered = len(ids)
	if len(ids) == 0 {
		logger.Debug().Msg("No statements to process")
		return summary, nil
	}
	logger.Info().Int("statements", len(ids)).Msg("Processing statements")

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(o.cfg.StatementWorkers)
	for _, id := range ids {
		p.Go(func() {
			status, err := o.processStatement(ctx, logger, id)
			if err != nil {
				logger.Error().Err(err).Str("statement_id", id).Msg("Statement failed")
			}

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case models.StatusCompleted:
				summary.Completed++
			case models.StatusFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
		})
	}
	p.Wait()

	logger.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Pipeline pass finished")
	return summary, nil
}

// ProcessStatement claims and processes one statement. An empty status means
// the statement was not claimable.
func (o *Orchestrator) ProcessStatement(ctx context.Context, id string) (models.StatementStatus, error) {
	return o.processStatement(ctx, o.logger, id)
}

func (o *Orchestrator) processStatement(ctx context.Context, logger zerolog.Logger, id string) (status models.StatementStatus, err error) {
	doc, err := o.store.Claim(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to claim statement %s: %w", id, err)
	}
	if doc == nil {
		logger.Debug().Str("statement_id", id).Msg("Statement already claimed")
		return "", nil
	}

	logger = logging.WithStatement(logger, doc.ID, doc.FileName)
	logging.LogStage(logger, string(StageClaimed))

	started := time.Now()
	status = models.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			status = models.StatusFailed
			err = apperrors.NewStatementError(doc.ID, "panic", fmt.Errorf("%v", r))
		}
		if relErr := o.store.Release(context.WithoutCancel(ctx), doc.ID, status); relErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release statement: %w", relErr))
		}
		if status == models.StatusCompleted {
			logging.LogStage(logger, string(StageCompleted))
		} else {
			logger.Warn().Err(err).Str("stage", string(StageFailed)).Msg("Statement marked failed")
		}
		o.notify(context.WithoutCancel(ctx), logger, notify.StatementOutcome{
			StatementID: doc.ID,
			FileName:    doc.FileName,
			Status:      status,
			Err:         err,
			Duration:    time.Since(started),
		})
	}()

	if err := o.process(logging.WithLogger(ctx, logger), logger, doc); err != nil {
		return models.StatusFailed, err
	}
	status = models.StatusCompleted
	return status, nil
}

func (o *Orchestrator) process(ctx context.Context, logger zerolog.Logger, doc *models.StatementDocument) error {
	schemes, proj, err := normalize.Flatten(ctx, doc)
	if err != nil {
		return err
	}
	txns, err := proj.Apply(doc)
	if err != nil {
		return err
	}
	logging.LogStage(logger, string(StageNormalized))

	res, err := o.store.UpsertSchemes(ctx, schemes)
	if err := tolerateConflict(err); err != nil {
		return apperrors.NewStatementError(doc.ID, string(StageSchemesPersisted), err)
	}
	logging.LogUpsert(logger, string(store.KindSchemes), res.Upserted, res.Modified, res.Failed)
	logging.LogStage(logger, string(StageSchemesPersisted))

	res, err = o.store.UpsertTransactions(ctx, txns)
	if err := tolerateConflict(err); err != nil {
		return apperrors.NewStatementError(doc.ID, string(StageTransactionsPersisted), err)
	}
	logging.LogUpsert(logger, string(store.KindTransactions), res.Upserted, res.Modified, res.Failed)
	logging.LogStage(logger, string(StageTransactionsPersisted))

	p := pool.New().WithErrors().WithMaxGoroutines(o.cfg.HoldingConcurrency)
	for _, sc := range schemes {
		p.Go(func() error {
			hl := logging.WithHolding(logger, sc.AMFI)
			if err := o.processHolding(ctx, hl, sc.AMFI); err != nil {
				hl.Error().Err(err).Msg("Holding failed")
				return fmt.Errorf("holding %s: %w", sc.AMFI, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return apperrors.NewStatementError(doc.ID, "holdings", err)
	}
	return nil
}

// processHolding runs under the scheme's lock so that statements sharing a
// scheme value it one after another. The last writer has read every ledger
// row persisted before it started.
func (o *Orchestrator) processHolding(ctx context.Context, logger zerolog.Logger, amfi string) error {
	unlock := o.holdings.Lock(amfi)
	defer unlock()

	if _, err := o.collector.Collect(ctx, amfi); err != nil {
		return err
	}
	logging.LogStage(logger, string(StageQuotesFetched))

	txns, err := o.store.GetTransactions(ctx, store.TransactionFilter{AMFI: amfi})
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txns) == 0 {
		logger.Info().Msg("No transactions, skipping valuation")
		return nil
	}

	from := txns[0].Date
	quotes, err := o.store.GetQuotes(ctx, amfi, from)
	if err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}

	result := valuation.ComputeDailySeries(txns, quotes, from)
	for _, w := range result.Warnings {
		logger.Warn().
			Str("date", models.FormatDate(w.Date)).
			Str("type", string(w.Type)).
			Str("unmatched_units", w.Unmatched.String()).
			Msg("Redemption exceeds recorded lots")
	}
	logger.Info().Int("rows", len(result.Series)).Msg("Valuation computed")
	logging.LogStage(logger, string(StageValuationComputed))

	res, err := o.store.UpsertValuations(ctx, result.Series)
	if err := tolerateConflict(err); err != nil {
		return err
	}
	logging.LogUpsert(logger, string(store.KindValuations), res.Upserted, res.Modified, res.Failed)
	logging.LogStage(logger, string(StageValuationPersisted))
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, logger zerolog.Logger, outcome notify.StatementOutcome) {
	if err := o.notifier.SendStatement(ctx, outcome); err != nil {
		logger.Warn().Err(err).Msg("Failed to send notification")
	}
}

// tolerateConflict drops partial-batch failures, which are already counted
// and logged, and keeps every other error.
func tolerateConflict(err error) error {
	if errors.Is(err, apperrors.ErrPersistenceConflict) {
		return nil
	}
	return err
}
