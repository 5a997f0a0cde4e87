// Package orchestrator coordinates the relay node's processing loops: one
// sequential poll-dispatch-commit loop per event name, plus a batch cadence
// that seals closed settlement batches and drives controller submissions.
package orchestrator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vaultbridge/relay-node/relayer/aggregator"
	"github.com/vaultbridge/relay-node/relayer/cursor"
	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/registry"
	"github.com/vaultbridge/relay-node/relayer/store"
)

// Options carries the orchestrator's cadence and lifecycle settings.
type Options struct {
	EventNames           []string
	EventPollingInterval time.Duration
	BatchPollingInterval time.Duration
	FeedBatchSize        int
	FinalizationDeadline time.Duration
	OrphanRetention      time.Duration
}

// Orchestrator runs the relay processing loops.
type Orchestrator struct {
	database   *db.DB
	cursors    *cursor.Store
	registry   *registry.Registry
	aggregator *aggregator.Aggregator
	feed       EventFeed
	signal     BatchSignal
	opts       Options
	logger     zerolog.Logger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator.
func New(
	database *db.DB,
	cursors *cursor.Store,
	reg *registry.Registry,
	agg *aggregator.Aggregator,
	feed EventFeed,
	signal BatchSignal,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.EventPollingInterval <= 0 {
		opts.EventPollingInterval = 5 * time.Second
	}
	if opts.BatchPollingInterval <= 0 {
		opts.BatchPollingInterval = 30 * time.Second
	}
	if opts.FeedBatchSize <= 0 {
		opts.FeedBatchSize = 100
	}
	return &Orchestrator{
		database:   database,
		cursors:    cursors,
		registry:   reg,
		aggregator: agg,
		feed:       feed,
		signal:     signal,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		stopCh:     make(chan struct{}),
	}
}

// Start launches one ingestion goroutine per event name and the batch loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.running {
		return fmt.Errorf("orchestrator is already running")
	}
	if len(o.opts.EventNames) == 0 {
		return fmt.Errorf("no event names configured")
	}

	o.running = true
	o.stopCh = make(chan struct{})

	for _, name := range o.opts.EventNames {
		o.wg.Add(1)
		go o.eventLoop(ctx, name)
	}

	o.wg.Add(1)
	go o.batchLoop(ctx)

	o.logger.Info().
		Strs("event_names", o.opts.EventNames).
		Msg("orchestrator started")
	return nil
}

// Stop signals all loops to halt and waits for in-flight units to finish.
// No cursor is left advanced without its paired effect committed.
func (o *Orchestrator) Stop() error {
	if !o.running {
		return nil
	}

	o.logger.Info().Msg("stopping orchestrator")
	close(o.stopCh)
	o.running = false

	o.wg.Wait()
	o.logger.Info().Msg("orchestrator stopped")
	return nil
}

// IsRunning returns whether the orchestrator is currently running.
func (o *Orchestrator) IsRunning() bool {
	return o.running
}

// eventLoop polls one event name. Events within a name are strictly
// sequential so delivery order and cursor monotonicity hold.
func (o *Orchestrator) eventLoop(ctx context.Context, eventName string) {
	defer o.wg.Done()

	log := o.logger.With().Str("event_name", eventName).Logger()
	ticker := time.NewTicker(o.opts.EventPollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.ProcessEventName(ctx, eventName); err != nil {
				log.Error().Err(err).Msg("event ingestion pass failed")
			}
		}
	}
}

// ProcessEventName runs one poll-dispatch-commit pass for an event name.
func (o *Orchestrator) ProcessEventName(ctx context.Context, eventName string) error {
	last, err := o.cursors.Read(eventName)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	events, err := o.feed.FetchEvents(ctx, eventName, last, o.opts.FeedBatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	for i := range events {
		if err := o.applyEvent(&events[i]); err != nil {
			// Stop the pass at the first failed event so ordering holds; the
			// cursor was not advanced past it and the next pass retries.
			return fmt.Errorf("failed to apply event vid=%d: %w", events[i].Vid, err)
		}
		select {
		case <-o.stopCh:
			return nil
		default:
		}
	}
	return nil
}

// applyEvent commits a single event's effect together with its cursor move.
func (o *Orchestrator) applyEvent(ev *Event) error {
	applied, err := o.cursors.Advance(ev.EventName, ev.Vid, func(tx *gorm.DB) error {
		switch ev.Kind {
		case KindInitiation:
			return o.applyInitiation(tx, ev)
		case KindFinalization:
			return o.applyFinalization(tx, ev)
		case KindBatchAssignment:
			return o.applyBatchAssignment(tx, ev)
		default:
			return fmt.Errorf("unknown event kind %q", ev.Kind)
		}
	})
	if err != nil {
		return err
	}
	if !applied {
		o.logger.Debug().
			Str("event_name", ev.EventName).
			Uint64("vid", ev.Vid).
			Msg("duplicate delivery ignored")
	}
	return nil
}

func (o *Orchestrator) applyInitiation(tx *gorm.DB, ev *Event) error {
	hash, err := o.normalizeHash(ev.TxHash, ev.Origin)
	if err != nil {
		return err
	}

	created, err := o.registry.RecordInitiation(tx, registry.InitiationRecord{
		Origin:      ev.Origin,
		TxHash:      hash,
		BlockNumber: ev.BlockNumber,
		Payload:     ev.Payload,
		EventType:   ev.EventType,
		SubgraphID:  ev.SubgraphID,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	o.logger.Info().
		Str("tx_hash", hash).
		Str("origin", ev.Origin).
		Uint64("origin_block", ev.BlockNumber).
		Msg("bridge initiation recorded")

	// A finalization may have arrived first and been quarantined; replay it
	// inside the same atomic unit.
	return o.replayQuarantined(tx, hash)
}

func (o *Orchestrator) applyFinalization(tx *gorm.DB, ev *Event) error {
	hash, err := o.normalizeHash(ev.TxHash, "")
	if err != nil {
		return err
	}

	outcome, err := o.registry.RecordFinalization(tx, registry.FinalizationRecord{
		BridgeInitiatedTxHash: hash,
		FinalizedTxHash:       ev.FinalizedTxHash,
		BlockNumber:           ev.BlockNumber,
	})
	if err != nil {
		return err
	}

	switch outcome {
	case registry.FinalizationApplied:
		o.logger.Info().
			Str("tx_hash", hash).
			Str("finalized_tx_hash", ev.FinalizedTxHash).
			Uint64("block_number", ev.BlockNumber).
			Msg("transaction finalized")
		return nil
	case registry.FinalizationDuplicate:
		o.logger.Debug().
			Str("tx_hash", hash).
			Msg("duplicate finalization ignored")
		return nil
	case registry.FinalizationOrphan:
		return o.quarantine(tx, hash, ev)
	}
	return nil
}

func (o *Orchestrator) applyBatchAssignment(tx *gorm.DB, ev *Event) error {
	hash, err := o.normalizeHash(ev.TxHash, "")
	if err != nil {
		return err
	}

	assigned, err := o.registry.AssignBatch(tx, hash, ev.L1BatchNumber)
	if err != nil {
		return err
	}
	if !assigned {
		o.logger.Warn().
			Str("tx_hash", hash).
			Uint64("l1_batch_number", ev.L1BatchNumber).
			Msg("batch assignment skipped: unknown or already sealed transaction")
	}
	return nil
}

// quarantine parks an orphan finalization for later replay. The cursor still
// advances past the orphan; losing source ordering between chains is expected
// and must not wedge the partition.
func (o *Orchestrator) quarantine(tx *gorm.DB, hash string, ev *Event) error {
	var existing store.QuarantinedFinalization
	err := tx.Where("bridge_initiated_tx_hash = ?", hash).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to check quarantine: %w", err)
	}

	row := store.QuarantinedFinalization{
		BridgeInitiatedTxHash: hash,
		FinalizedTxHash:       ev.FinalizedTxHash,
		BlockNumber:           ev.BlockNumber,
		EventName:             ev.EventName,
		Vid:                   ev.Vid,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to quarantine orphan finalization: %w", err)
	}

	o.logger.Warn().
		Str("tx_hash", hash).
		Str("finalized_tx_hash", ev.FinalizedTxHash).
		Uint64("vid", ev.Vid).
		Msg("orphan finalization quarantined")
	return nil
}

// replayQuarantined applies a parked finalization for the given hash, if any.
func (o *Orchestrator) replayQuarantined(tx *gorm.DB, hash string) error {
	var parked store.QuarantinedFinalization
	err := tx.Where("bridge_initiated_tx_hash = ?", hash).First(&parked).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check quarantine: %w", err)
	}

	outcome, err := o.registry.RecordFinalization(tx, registry.FinalizationRecord{
		BridgeInitiatedTxHash: parked.BridgeInitiatedTxHash,
		FinalizedTxHash:       parked.FinalizedTxHash,
		BlockNumber:           parked.BlockNumber,
	})
	if err != nil {
		return err
	}
	if outcome == registry.FinalizationOrphan {
		return nil
	}

	if err := tx.Unscoped().Delete(&parked).Error; err != nil {
		return fmt.Errorf("failed to clear quarantine: %w", err)
	}

	o.logger.Info().
		Str("tx_hash", hash).
		Msg("quarantined finalization replayed")
	return nil
}

// batchLoop runs sealing, submission driving, deadline failing and
// quarantine pruning on a fixed cadence.
func (o *Orchestrator) batchLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.BatchPollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.ProcessBatches(ctx); err != nil {
				o.logger.Error().Err(err).Msg("batch pass failed")
			}
		}
	}
}

// ProcessBatches runs one batch cadence pass.
func (o *Orchestrator) ProcessBatches(ctx context.Context) error {
	closed, err := o.signal.ClosedBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to query closed batches: %w", err)
	}

	for _, batch := range closed {
		if _, err := o.aggregator.Seal(ctx, batch); err != nil {
			o.logger.Error().
				Err(err).
				Uint64("l1_batch_number", batch).
				Msg("batch sealing failed, will retry")
		}
	}

	if err := o.aggregator.SubmitPending(ctx); err != nil {
		o.logger.Error().Err(err).Msg("submission driving failed")
	}

	if o.opts.FinalizationDeadline > 0 {
		cutoff := time.Now().Add(-o.opts.FinalizationDeadline)
		if _, err := o.registry.FailOverdue(cutoff); err != nil {
			o.logger.Error().Err(err).Msg("deadline sweep failed")
		}
	}

	if o.opts.OrphanRetention > 0 {
		if err := o.pruneQuarantine(time.Now().Add(-o.opts.OrphanRetention)); err != nil {
			o.logger.Error().Err(err).Msg("quarantine pruning failed")
		}
	}

	return nil
}

// pruneQuarantine drops quarantined finalizations older than the cutoff.
func (o *Orchestrator) pruneQuarantine(cutoff time.Time) error {
	res := o.database.Client().
		Where("created_at < ?", cutoff).
		Delete(&store.QuarantinedFinalization{})
	if res.Error != nil {
		return fmt.Errorf("failed to prune quarantine: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		o.logger.Info().
			Int64("count", res.RowsAffected).
			Msg("stale quarantined finalizations pruned")
	}
	return nil
}

// normalizeHash brings a transaction hash into 0x-hex form. OriginB reports
// base58 signatures; everything else is already hex.
func (o *Orchestrator) normalizeHash(raw, origin string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty transaction hash")
	}
	if strings.HasPrefix(raw, "0x") {
		return strings.ToLower(raw), nil
	}
	if origin == store.OriginB || !isHex(raw) {
		decoded, err := base58.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("failed to decode base58 hash %q: %w", raw, err)
		}
		return "0x" + hex.EncodeToString(decoded), nil
	}
	return "0x" + strings.ToLower(raw), nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s)%2 == 0
}
