// Package aggregator seals groups of transactions sharing an L1 batch number
// into vault controller submissions and drives those submissions through
// their lifecycle on the destination chain.
package aggregator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/relayerr"
	"github.com/vaultbridge/relay-node/relayer/store"
)

// ShareDecoder derives the share amount carried in a transaction payload.
// The payload itself stays opaque to the relay core.
type ShareDecoder interface {
	DecodeShares(payload []byte) (*big.Int, error)
}

// Submitter sends sealed controller transactions to the destination chain and
// reports their inclusion.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch *store.VaultControllerTransaction, members []store.Transaction) (txHash string, err error)
	ConfirmBatch(ctx context.Context, txHash string) (confirmed bool, err error)
}

// Aggregator seals batches and drives controller submissions.
type Aggregator struct {
	database  *db.DB
	decoder   ShareDecoder
	submitter Submitter
	retryCfg  *relayerr.RetryConfig
	logger    zerolog.Logger
}

// New creates a batch aggregator.
func New(
	database *db.DB,
	decoder ShareDecoder,
	submitter Submitter,
	retryCfg *relayerr.RetryConfig,
	logger zerolog.Logger,
) *Aggregator {
	if retryCfg == nil {
		retryCfg = relayerr.DefaultRetryConfig()
	}
	return &Aggregator{
		database:  database,
		decoder:   decoder,
		submitter: submitter,
		retryCfg:  retryCfg,
		logger:    logger.With().Str("component", "batch_aggregator").Logger(),
	}
}

// Seal creates the vault controller transaction for the given settlement
// batch and links every eligible member to it, all in one database
// transaction. Re-invocation for an already-sealed batch is a no-op returning
// the existing controller row; a batch with zero eligible members produces no
// row. Any failure mid-way rolls the whole attempt back so a batch is never
// partially sealed.
func (a *Aggregator) Seal(ctx context.Context, l1BatchNumber uint64) (*store.VaultControllerTransaction, error) {
	if a.database == nil {
		return nil, fmt.Errorf("database is nil")
	}

	var sealed *store.VaultControllerTransaction
	err := a.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing store.VaultControllerTransaction
		err := tx.Where("l1_batch_number = ?", l1BatchNumber).First(&existing).Error
		if err == nil {
			sealed = &existing
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to check existing controller transaction: %w", err)
		}

		var members []store.Transaction
		if err := tx.
			Where("l1_batch_number = ? AND vault_controller_transaction_id IS NULL AND status IN ?",
				l1BatchNumber, []string{store.TxStatusPending, store.TxStatusFinalized}).
			Order("id ASC").
			Find(&members).Error; err != nil {
			return fmt.Errorf("failed to select batch members: %w", err)
		}
		if len(members) == 0 {
			return nil
		}

		totalShares := new(big.Int)
		memberIDs := make([]uint, 0, len(members))
		for _, m := range members {
			shares, err := a.decoder.DecodeShares(m.Payload)
			if err != nil {
				return relayerr.Wrap(err, relayerr.CodePartialBatch,
					fmt.Sprintf("failed to decode shares for %s", m.BridgeInitiatedTxHash))
			}
			totalShares.Add(totalShares, shares)
			memberIDs = append(memberIDs, m.ID)
		}

		controller := store.VaultControllerTransaction{
			L1BatchNumber:    l1BatchNumber,
			TotalShares:      totalShares.String(),
			MessageHashCount: uint64(len(members)),
			Status:           store.ControllerStatusCreated,
		}
		if err := tx.Create(&controller).Error; err != nil {
			return relayerr.Wrap(err, relayerr.CodePartialBatch, "failed to create controller transaction")
		}

		res := tx.Model(&store.Transaction{}).
			Where("id IN ? AND vault_controller_transaction_id IS NULL", memberIDs).
			Update("vault_controller_transaction_id", controller.ID)
		if res.Error != nil {
			return relayerr.Wrap(res.Error, relayerr.CodePartialBatch, "failed to link batch members")
		}
		if res.RowsAffected != int64(len(memberIDs)) {
			return relayerr.New(relayerr.CodePartialBatch,
				fmt.Sprintf("linked %d of %d batch members", res.RowsAffected, len(memberIDs)))
		}

		sealed = &controller
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sealed != nil && sealed.Status == store.ControllerStatusCreated && sealed.TransactionHash == "" {
		a.logger.Info().
			Uint64("l1_batch_number", l1BatchNumber).
			Str("total_shares", sealed.TotalShares).
			Uint64("message_hash_count", sealed.MessageHashCount).
			Msg("batch sealed")
	}
	return sealed, nil
}

// SubmitPending drives created controller transactions to the destination
// chain and checks inclusion for submitted ones. Transient submission errors
// are retried with exponential backoff within the configured attempt budget;
// exhausting the budget fails the controller transaction terminally.
func (a *Aggregator) SubmitPending(ctx context.Context) error {
	if a.database == nil {
		return fmt.Errorf("database is nil")
	}

	var created []store.VaultControllerTransaction
	if err := a.database.Client().
		Where("status = ?", store.ControllerStatusCreated).
		Order("l1_batch_number ASC").
		Find(&created).Error; err != nil {
		return fmt.Errorf("failed to query created controller transactions: %w", err)
	}

	for i := range created {
		if err := a.submitOne(ctx, &created[i]); err != nil {
			a.logger.Error().
				Err(err).
				Uint64("l1_batch_number", created[i].L1BatchNumber).
				Msg("controller submission failed")
		}
	}

	var submitted []store.VaultControllerTransaction
	if err := a.database.Client().
		Where("status = ?", store.ControllerStatusSubmitted).
		Order("l1_batch_number ASC").
		Find(&submitted).Error; err != nil {
		return fmt.Errorf("failed to query submitted controller transactions: %w", err)
	}

	for i := range submitted {
		if err := a.confirmOne(ctx, &submitted[i]); err != nil {
			a.logger.Error().
				Err(err).
				Uint64("l1_batch_number", submitted[i].L1BatchNumber).
				Msg("controller confirmation check failed")
		}
	}

	return nil
}

// submitOne sends one sealed controller transaction, spending at most the
// remaining attempt budget.
func (a *Aggregator) submitOne(ctx context.Context, controller *store.VaultControllerTransaction) error {
	remaining := a.retryCfg.MaxAttempts - int(controller.SubmitAttempts)
	if remaining <= 0 {
		return a.failController(controller, "submission attempts exhausted")
	}

	var members []store.Transaction
	if err := a.database.Client().
		Where("vault_controller_transaction_id = ?", controller.ID).
		Order("id ASC").
		Find(&members).Error; err != nil {
		return fmt.Errorf("failed to load batch members: %w", err)
	}

	cfg := *a.retryCfg
	cfg.MaxAttempts = remaining
	cfg.InitialDelay = relayerr.ExponentialBackoff(int(controller.SubmitAttempts)+1, a.retryCfg.InitialDelay, a.retryCfg.MaxDelay)

	var txHash string
	attempts, err := relayerr.RetryWithConfig(ctx, func() error {
		hash, submitErr := a.submitter.SubmitBatch(ctx, controller, members)
		if submitErr != nil {
			return relayerr.Wrap(submitErr, relayerr.CodeSubmission, "destination chain submission failed")
		}
		txHash = hash
		return nil
	}, &cfg)

	spent := controller.SubmitAttempts + uint64(attempts)
	if err != nil {
		if uerr := a.database.Client().Model(controller).
			Update("submit_attempts", spent).Error; uerr != nil {
			return fmt.Errorf("failed to record submit attempts: %w", uerr)
		}
		if relayerr.HasCode(err, relayerr.CodeExhausted) || int(spent) >= a.retryCfg.MaxAttempts {
			return a.failController(controller, err.Error())
		}
		return err
	}

	res := a.database.Client().Model(&store.VaultControllerTransaction{}).
		Where("id = ? AND status = ?", controller.ID, store.ControllerStatusCreated).
		Updates(map[string]interface{}{
			"status":           store.ControllerStatusSubmitted,
			"transaction_hash": txHash,
			"submit_attempts":  spent,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark controller submitted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		a.logger.Warn().
			Uint64("l1_batch_number", controller.L1BatchNumber).
			Msg("controller status changed concurrently, skipping update")
		return nil
	}

	a.logger.Info().
		Uint64("l1_batch_number", controller.L1BatchNumber).
		Str("tx_hash", txHash).
		Uint64("attempts", spent).
		Msg("controller transaction submitted")
	return nil
}

// confirmOne checks inclusion of one submitted controller transaction.
func (a *Aggregator) confirmOne(ctx context.Context, controller *store.VaultControllerTransaction) error {
	confirmed, err := a.submitter.ConfirmBatch(ctx, controller.TransactionHash)
	if err != nil {
		return relayerr.Wrap(err, relayerr.CodeSubmission, "confirmation query failed")
	}
	if !confirmed {
		return nil
	}

	res := a.database.Client().Model(&store.VaultControllerTransaction{}).
		Where("id = ? AND status = ?", controller.ID, store.ControllerStatusSubmitted).
		Update("status", store.ControllerStatusConfirmed)
	if res.Error != nil {
		return fmt.Errorf("failed to mark controller confirmed: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		a.logger.Info().
			Uint64("l1_batch_number", controller.L1BatchNumber).
			Str("tx_hash", controller.TransactionHash).
			Msg("controller transaction confirmed")
	}
	return nil
}

// failController terminally fails a controller transaction. Failed rows are
// surfaced for operator review and never retried automatically.
func (a *Aggregator) failController(controller *store.VaultControllerTransaction, reason string) error {
	res := a.database.Client().Model(&store.VaultControllerTransaction{}).
		Where("id = ? AND status IN ?", controller.ID,
			[]string{store.ControllerStatusCreated, store.ControllerStatusSubmitted}).
		Updates(map[string]interface{}{
			"status":    store.ControllerStatusFailed,
			"error_msg": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark controller failed: %w", res.Error)
	}

	a.logger.Error().
		Uint64("l1_batch_number", controller.L1BatchNumber).
		Str("reason", reason).
		Msg("controller transaction failed terminally")
	return relayerr.New(relayerr.CodeExhausted, reason)
}
