// Package store contains the GORM-backed SQLite models persisted by the relay node.
//
// Database structure (database file: relay_data.db):
//
//	relay_data.db
//	├── transactions
//	├── event_cursors
//	├── vault_controller_transactions
//	└── quarantined_finalizations
package store

import (
	"gorm.io/gorm"
)

// Transaction origin values.
const (
	OriginA = "origin_a"
	OriginB = "origin_b"
)

// Transaction status values.
const (
	TxStatusPending   = "pending"
	TxStatusFinalized = "finalized"
	TxStatusFailed    = "failed"
)

// VaultControllerTransaction status values.
const (
	ControllerStatusCreated   = "created"
	ControllerStatusSubmitted = "submitted"
	ControllerStatusConfirmed = "confirmed"
	ControllerStatusFailed    = "failed"
)

// Transaction tracks a single bridge transfer from its initiation event on the
// origin chain through finalization on the destination chain. Rows are never
// deleted; terminal rows are retained for audit.
type Transaction struct {
	gorm.Model
	Origin                       string  `gorm:"not null"`                // "origin_a" or "origin_b"
	Status                       string  `gorm:"index;not null"`          // "pending", "finalized", "failed"
	BridgeInitiatedTxHash        string  `gorm:"uniqueIndex;not null"`    // Transaction hash on the origin chain, 0x-hex
	FinalizedTxHash              string  `gorm:"index"`                   // Transaction hash on the destination chain (empty until finalized)
	BlockNumber                  *uint64 `gorm:"index"`                   // Destination chain block number (nil until finalized)
	OriginBlockNumber            *uint64 `gorm:"index"`                   // Origin chain block number (nil until observed)
	L1BatchNumber                *uint64 `gorm:"index"`                   // Settlement batch this transfer belongs to (nil until assigned)
	Payload                      []byte  // Opaque payload bytes, decoded only by collaborators
	EventType                    string  // Upstream event type that produced this row
	SubgraphID                   string  `gorm:"index"` // Upstream subgraph identifier
	ErrorMsg                     string  `gorm:"type:text"` // Failure reason if status is "failed"
	VaultControllerTransactionID *uint   `gorm:"index"` // Owning controller transaction (nil while unbatched)
	VaultControllerTransaction   *VaultControllerTransaction `gorm:"constraint:OnDelete:RESTRICT"`
}

// EventCursor is the durable watermark for one upstream event name.
// last_processed_vid never decreases and only moves together with the effect
// derived from the events up to that position.
type EventCursor struct {
	gorm.Model
	EventName        string `gorm:"uniqueIndex;not null"`
	LastProcessedVid uint64 `gorm:"not null;default:0"`
}

// VaultControllerTransaction is a sealed aggregate of member transactions
// sharing one L1 batch number. TotalShares and MessageHashCount are fixed at
// sealing time; the submission lifecycle only touches status, hash, attempts
// and error columns.
type VaultControllerTransaction struct {
	gorm.Model
	TransactionHash  string `gorm:"index"`                // Submission hash on the settlement layer (empty until submitted)
	L1BatchNumber    uint64 `gorm:"uniqueIndex;not null"` // One controller row per settlement batch
	TotalShares      string `gorm:"not null"`             // Decimal sum of member share amounts at sealing time
	MessageHashCount uint64 `gorm:"not null"`             // Member count at sealing time
	Status           string `gorm:"index;not null"`       // "created", "submitted", "confirmed", "failed"
	SubmitAttempts   uint64 // Submission attempts spent so far
	ErrorMsg         string `gorm:"type:text"` // Failure reason if status is "failed"
}

// QuarantinedFinalization parks a finalization event that arrived before its
// initiation counterpart. Replayed once the matching transaction shows up,
// pruned after the retention window.
type QuarantinedFinalization struct {
	gorm.Model
	BridgeInitiatedTxHash string `gorm:"uniqueIndex;not null"` // Hash the finalization points at
	FinalizedTxHash       string `gorm:"not null"`             // Destination chain hash carried by the event
	BlockNumber           uint64 // Destination chain block number carried by the event
	EventName             string // Event name the orphan arrived on
	Vid                   uint64 // Feed position the orphan arrived at
}
