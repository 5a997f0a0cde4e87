package orchestrator

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EventKind discriminates feed events.
type EventKind string

const (
	// KindInitiation is a bridge-initiation event on an origin chain.
	KindInitiation EventKind = "initiation"
	// KindFinalization is a finalization event on the destination chain.
	KindFinalization EventKind = "finalization"
	// KindBatchAssignment stamps a transaction with its settlement batch number.
	KindBatchAssignment EventKind = "batch_assignment"
)

// Event is one entry of the upstream feed. Vid is a monotonic position within
// the event name; the feed may redeliver events at or below a consumed vid.
type Event struct {
	Vid       uint64
	EventName string
	Kind      EventKind

	// Initiation fields
	Origin     string // store.OriginA or store.OriginB
	TxHash     string // origin chain hash; base58 signatures for OriginB
	Payload    hexutil.Bytes
	EventType  string
	SubgraphID string

	// Finalization fields
	FinalizedTxHash string

	// Batch assignment fields
	L1BatchNumber uint64

	// Block number on the chain the event was observed on
	BlockNumber uint64
}

// EventFeed returns ordered events with a monotonic position per event name.
type EventFeed interface {
	FetchEvents(ctx context.Context, eventName string, afterVid uint64, limit int) ([]Event, error)
}

// BatchSignal reports settlement batches the settlement layer has closed.
type BatchSignal interface {
	ClosedBatches(ctx context.Context) ([]uint64, error)
}
