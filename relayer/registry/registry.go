// Package registry is the durable record and state machine for individual
// bridge transactions: pending on initiation, finalized when the matching
// finalization event arrives, failed on rejection or deadline.
package registry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/store"
)

// InitiationRecord carries the fields observed on a bridge-initiation event.
type InitiationRecord struct {
	Origin      string // store.OriginA or store.OriginB
	TxHash      string // origin chain hash, normalized 0x-hex
	BlockNumber uint64 // origin chain block number
	Payload     []byte
	EventType   string
	SubgraphID  string
}

// FinalizationRecord carries the fields observed on a finalization event.
type FinalizationRecord struct {
	BridgeInitiatedTxHash string // lookup key, normalized 0x-hex
	FinalizedTxHash       string // destination chain hash
	BlockNumber           uint64 // destination chain block number
}

// FinalizationOutcome describes what RecordFinalization did.
type FinalizationOutcome int

const (
	// FinalizationApplied means a pending transaction moved to finalized.
	FinalizationApplied FinalizationOutcome = iota
	// FinalizationDuplicate means the transaction was already past pending; no-op.
	FinalizationDuplicate
	// FinalizationOrphan means no transaction matched the initiated hash.
	FinalizationOrphan
)

// Registry provides transaction state machine operations. Mutations take the
// caller's transaction handle so they compose into a cursor advancement unit.
type Registry struct {
	database *db.DB
	logger   zerolog.Logger
}

// New creates a transaction registry.
func New(database *db.DB, logger zerolog.Logger) *Registry {
	return &Registry{
		database: database,
		logger:   logger.With().Str("component", "tx_registry").Logger(),
	}
}

// RecordInitiation creates a pending transaction for the observed initiation
// event. A transaction with the same initiated hash already existing makes
// this a no-op, so replayed initiation events are tolerated.
// Returns whether a new row was created.
func (r *Registry) RecordInitiation(tx *gorm.DB, rec InitiationRecord) (bool, error) {
	if rec.TxHash == "" {
		return false, fmt.Errorf("initiation record has empty transaction hash")
	}
	if rec.Origin != store.OriginA && rec.Origin != store.OriginB {
		return false, fmt.Errorf("unknown origin %q", rec.Origin)
	}

	var existing store.Transaction
	err := tx.Where("bridge_initiated_tx_hash = ?", rec.TxHash).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return false, fmt.Errorf("failed to check existing transaction: %w", err)
	}

	originBlock := rec.BlockNumber
	row := store.Transaction{
		Origin:                rec.Origin,
		Status:                store.TxStatusPending,
		BridgeInitiatedTxHash: rec.TxHash,
		OriginBlockNumber:     &originBlock,
		Payload:               rec.Payload,
		EventType:             rec.EventType,
		SubgraphID:            rec.SubgraphID,
	}
	if err := tx.Create(&row).Error; err != nil {
		return false, fmt.Errorf("failed to create transaction: %w", err)
	}

	return true, nil
}

// RecordFinalization moves the matching pending transaction to finalized,
// setting the destination hash and block number. The transition only fires
// from pending: a duplicate finalization of an already-finalized row is a
// no-op, and a finalization with no matching row at all is an orphan the
// caller must quarantine.
func (r *Registry) RecordFinalization(tx *gorm.DB, rec FinalizationRecord) (FinalizationOutcome, error) {
	if rec.BridgeInitiatedTxHash == "" {
		return FinalizationOrphan, fmt.Errorf("finalization record has empty initiated hash")
	}

	res := tx.Model(&store.Transaction{}).
		Where("bridge_initiated_tx_hash = ? AND status = ?", rec.BridgeInitiatedTxHash, store.TxStatusPending).
		Updates(map[string]interface{}{
			"status":            store.TxStatusFinalized,
			"finalized_tx_hash": rec.FinalizedTxHash,
			"block_number":      rec.BlockNumber,
		})
	if res.Error != nil {
		return FinalizationOrphan, fmt.Errorf("failed to finalize transaction: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return FinalizationApplied, nil
	}

	var existing store.Transaction
	err := tx.Where("bridge_initiated_tx_hash = ?", rec.BridgeInitiatedTxHash).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return FinalizationOrphan, nil
	}
	if err != nil {
		return FinalizationOrphan, fmt.Errorf("failed to look up transaction: %w", err)
	}

	// Row exists but is already finalized or failed.
	return FinalizationDuplicate, nil
}

// AssignBatch stamps the settlement batch number on the transaction with the
// given initiated hash. Members already linked to a controller row are sealed
// and must not move between batches.
func (r *Registry) AssignBatch(tx *gorm.DB, initiatedHash string, l1BatchNumber uint64) (bool, error) {
	res := tx.Model(&store.Transaction{}).
		Where("bridge_initiated_tx_hash = ? AND vault_controller_transaction_id IS NULL", initiatedHash).
		Update("l1_batch_number", l1BatchNumber)
	if res.Error != nil {
		return false, fmt.Errorf("failed to assign batch: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a pending transaction to failed with the given reason.
// Terminal; failed transactions are surfaced for operator review, never
// re-driven automatically.
func (r *Registry) MarkFailed(tx *gorm.DB, initiatedHash, reason string) (bool, error) {
	res := tx.Model(&store.Transaction{}).
		Where("bridge_initiated_tx_hash = ? AND status = ?", initiatedHash, store.TxStatusPending).
		Updates(map[string]interface{}{
			"status":    store.TxStatusFailed,
			"error_msg": reason,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark transaction failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FailOverdue fails pending transactions created before the deadline cutoff.
// Returns the number of transactions failed.
func (r *Registry) FailOverdue(cutoff time.Time) (int64, error) {
	if r.database == nil {
		return 0, fmt.Errorf("database is nil")
	}

	res := r.database.Client().Model(&store.Transaction{}).
		Where("status = ? AND created_at < ?", store.TxStatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":    store.TxStatusFailed,
			"error_msg": "finalization deadline elapsed",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail overdue transactions: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		r.logger.Warn().
			Int64("count", res.RowsAffected).
			Time("cutoff", cutoff).
			Msg("pending transactions failed on finalization deadline")
	}
	return res.RowsAffected, nil
}

// GetByInitiatedHash returns the transaction with the given origin chain hash.
func (r *Registry) GetByInitiatedHash(initiatedHash string) (*store.Transaction, error) {
	if r.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var row store.Transaction
	err := r.database.Client().Where("bridge_initiated_tx_hash = ?", initiatedHash).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return &row, nil
}

// ListByStatus returns transactions in the given status ordered by creation time.
func (r *Registry) ListByStatus(status string, limit int) ([]store.Transaction, error) {
	if r.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var rows []store.Transaction
	if err := r.database.Client().
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return rows, nil
}
