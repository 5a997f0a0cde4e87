package orchestrator

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultbridge/relay-node/relayer/aggregator"
	"github.com/vaultbridge/relay-node/relayer/cursor"
	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/registry"
	"github.com/vaultbridge/relay-node/relayer/relayerr"
	"github.com/vaultbridge/relay-node/relayer/store"
)

// scriptedFeed serves pre-loaded events, honoring the vid watermark the way a
// real indexer does.
type scriptedFeed struct {
	events map[string][]Event
}

func (f *scriptedFeed) FetchEvents(ctx context.Context, eventName string, afterVid uint64, limit int) ([]Event, error) {
	var out []Event
	for _, ev := range f.events[eventName] {
		if ev.Vid > afterVid && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

type scriptedSignal struct {
	batches []uint64
}

func (s *scriptedSignal) ClosedBatches(ctx context.Context) ([]uint64, error) {
	return s.batches, nil
}

type passDecoder struct{}

func (passDecoder) DecodeShares(payload []byte) (*big.Int, error) {
	return new(big.Int).SetBytes(payload), nil
}

type recordingSubmitter struct {
	submitCalls int
}

func (s *recordingSubmitter) SubmitBatch(ctx context.Context, batch *store.VaultControllerTransaction, members []store.Transaction) (string, error) {
	s.submitCalls++
	return "0xsubmitted", nil
}

func (s *recordingSubmitter) ConfirmBatch(ctx context.Context, txHash string) (bool, error) {
	return true, nil
}

type fixture struct {
	database *db.DB
	cursors  *cursor.Store
	registry *registry.Registry
	orch     *Orchestrator
	feed     *scriptedFeed
	signal   *scriptedSignal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	log := zerolog.Nop()
	cursors := cursor.NewStore(database)
	reg := registry.New(database, log)
	agg := aggregator.New(database, passDecoder{}, &recordingSubmitter{}, &relayerr.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}, log)

	feed := &scriptedFeed{events: map[string][]Event{}}
	signal := &scriptedSignal{}

	orch := New(database, cursors, reg, agg, feed, signal, Options{
		EventNames:           []string{"BridgeEvents"},
		EventPollingInterval: time.Millisecond,
		BatchPollingInterval: time.Millisecond,
		FeedBatchSize:        100,
	}, log)

	return &fixture{
		database: database,
		cursors:  cursors,
		registry: reg,
		orch:     orch,
		feed:     feed,
		signal:   signal,
	}
}

func TestInitiationThenFinalization(t *testing.T) {
	fx := newFixture(t)
	fx.feed.events["BridgeEvents"] = []Event{
		{
			Vid:         1,
			EventName:   "BridgeEvents",
			Kind:        KindInitiation,
			Origin:      store.OriginA,
			TxHash:      "0xh1",
			BlockNumber: 100,
			Payload:     big.NewInt(10).Bytes(),
		},
		{
			Vid:             2,
			EventName:       "BridgeEvents",
			Kind:            KindFinalization,
			TxHash:          "0xh1",
			FinalizedTxHash: "0xf1",
			BlockNumber:     205,
		},
	}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	row, err := fx.registry.GetByInitiatedHash("0xh1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, store.TxStatusFinalized, row.Status)
	assert.Equal(t, "0xf1", row.FinalizedTxHash)
	require.NotNil(t, row.OriginBlockNumber)
	assert.Equal(t, uint64(100), *row.OriginBlockNumber)
	require.NotNil(t, row.BlockNumber)
	assert.Equal(t, uint64(205), *row.BlockNumber)

	vid, err := fx.cursors.Read("BridgeEvents")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), vid)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.feed.events["BridgeEvents"] = []Event{
		{Vid: 1, EventName: "BridgeEvents", Kind: KindInitiation, Origin: store.OriginA, TxHash: "0xh1", BlockNumber: 100},
	}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	// Rewind the cursor and replay, as an at-least-once feed may after a crash.
	require.NoError(t, fx.database.Client().Model(&store.EventCursor{}).
		Where("event_name = ?", "BridgeEvents").
		Update("last_processed_vid", 0).Error)
	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	var count int64
	require.NoError(t, fx.database.Client().Model(&store.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOrphanFinalizationIsQuarantined(t *testing.T) {
	fx := newFixture(t)
	fx.feed.events["BridgeEvents"] = []Event{
		{
			Vid:             1,
			EventName:       "BridgeEvents",
			Kind:            KindFinalization,
			TxHash:          "0xh9",
			FinalizedTxHash: "0xf9",
			BlockNumber:     300,
		},
	}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	// No transaction row was created for the orphan.
	row, err := fx.registry.GetByInitiatedHash("0xh9")
	require.NoError(t, err)
	assert.Nil(t, row)

	var parked store.QuarantinedFinalization
	require.NoError(t, fx.database.Client().Where("bridge_initiated_tx_hash = ?", "0xh9").First(&parked).Error)
	assert.Equal(t, "0xf9", parked.FinalizedTxHash)

	// The cursor still advanced past the orphan.
	vid, err := fx.cursors.Read("BridgeEvents")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vid)
}

func TestQuarantinedFinalizationReplaysOnInitiation(t *testing.T) {
	fx := newFixture(t)
	fx.feed.events["BridgeEvents"] = []Event{
		{
			Vid:             1,
			EventName:       "BridgeEvents",
			Kind:            KindFinalization,
			TxHash:          "0xh1",
			FinalizedTxHash: "0xf1",
			BlockNumber:     205,
		},
		{
			Vid:         2,
			EventName:   "BridgeEvents",
			Kind:        KindInitiation,
			Origin:      store.OriginA,
			TxHash:      "0xh1",
			BlockNumber: 100,
		},
	}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	row, err := fx.registry.GetByInitiatedHash("0xh1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, store.TxStatusFinalized, row.Status)
	assert.Equal(t, "0xf1", row.FinalizedTxHash)

	var parkedCount int64
	require.NoError(t, fx.database.Client().Model(&store.QuarantinedFinalization{}).Count(&parkedCount).Error)
	assert.Equal(t, int64(0), parkedCount, "replayed quarantine entries are cleared")
}

func TestBatchAssignment(t *testing.T) {
	fx := newFixture(t)
	fx.feed.events["BridgeEvents"] = []Event{
		{Vid: 1, EventName: "BridgeEvents", Kind: KindInitiation, Origin: store.OriginA, TxHash: "0xh1", BlockNumber: 100},
		{Vid: 2, EventName: "BridgeEvents", Kind: KindBatchAssignment, TxHash: "0xh1", L1BatchNumber: 42},
	}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))

	row, err := fx.registry.GetByInitiatedHash("0xh1")
	require.NoError(t, err)
	require.NotNil(t, row.L1BatchNumber)
	assert.Equal(t, uint64(42), *row.L1BatchNumber)
}

func TestProcessBatchesSealsAndSubmits(t *testing.T) {
	fx := newFixture(t)

	var events []Event
	vid := uint64(0)
	for i, shares := range []int64{10, 20, 5} {
		hash := []string{"0xh1", "0xh2", "0xh3"}[i]
		vid++
		events = append(events, Event{
			Vid: vid, EventName: "BridgeEvents", Kind: KindInitiation,
			Origin: store.OriginA, TxHash: hash, BlockNumber: 100 + vid,
			Payload: big.NewInt(shares).Bytes(),
		})
		vid++
		events = append(events, Event{
			Vid: vid, EventName: "BridgeEvents", Kind: KindBatchAssignment,
			TxHash: hash, L1BatchNumber: 42,
		})
	}
	fx.feed.events["BridgeEvents"] = events
	fx.signal.batches = []uint64{42}

	require.NoError(t, fx.orch.ProcessEventName(context.Background(), "BridgeEvents"))
	require.NoError(t, fx.orch.ProcessBatches(context.Background()))

	var controller store.VaultControllerTransaction
	require.NoError(t, fx.database.Client().Where("l1_batch_number = ?", 42).First(&controller).Error)
	assert.Equal(t, "35", controller.TotalShares)
	assert.Equal(t, uint64(3), controller.MessageHashCount)
	assert.Equal(t, store.ControllerStatusConfirmed, controller.Status)

	var linked int64
	require.NoError(t, fx.database.Client().Model(&store.Transaction{}).
		Where("vault_controller_transaction_id = ?", controller.ID).Count(&linked).Error)
	assert.Equal(t, int64(3), linked)

	// The signal firing again must not create a second controller row.
	require.NoError(t, fx.orch.ProcessBatches(context.Background()))
	var count int64
	require.NoError(t, fx.database.Client().Model(&store.VaultControllerTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNormalizeHash(t *testing.T) {
	fx := newFixture(t)

	t.Run("hex hashes are lowercased", func(t *testing.T) {
		got, err := fx.orch.normalizeHash("0xABCDEF", "")
		require.NoError(t, err)
		assert.Equal(t, "0xabcdef", got)
	})

	t.Run("bare hex gets a prefix", func(t *testing.T) {
		got, err := fx.orch.normalizeHash("abcdef", "")
		require.NoError(t, err)
		assert.Equal(t, "0xabcdef", got)
	})

	t.Run("origin b signatures decode from base58", func(t *testing.T) {
		raw := []byte{0xde, 0xad, 0xbe, 0xef}
		encoded := base58.Encode(raw)

		got, err := fx.orch.normalizeHash(encoded, store.OriginB)
		require.NoError(t, err)
		assert.Equal(t, "0x"+hex.EncodeToString(raw), got)
	})

	t.Run("empty hash is rejected", func(t *testing.T) {
		_, err := fx.orch.normalizeHash("", "")
		require.Error(t, err)
	})
}

func TestStartStop(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.orch.Start(context.Background()))
	assert.True(t, fx.orch.IsRunning())

	require.Error(t, fx.orch.Start(context.Background()), "double start is rejected")

	require.NoError(t, fx.orch.Stop())
	assert.False(t, fx.orch.IsRunning())
}
