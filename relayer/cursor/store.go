// Package cursor implements the durable per-event-name watermark that makes
// feed consumption resumable and idempotent. A cursor only advances together
// with the effect derived from the events up to that position, in a single
// database transaction.
package cursor

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/vaultbridge/relay-node/relayer/db"
	"github.com/vaultbridge/relay-node/relayer/store"
)

// Effect is the caller-supplied set of writes committed together with a cursor
// advancement. It must use the supplied transaction handle for every write.
type Effect func(tx *gorm.DB) error

// Store provides read/advance operations over event cursors.
type Store struct {
	database *db.DB
}

// NewStore creates a cursor store.
func NewStore(database *db.DB) *Store {
	return &Store{database: database}
}

// Read returns the last processed vid for the given event name, creating the
// cursor row at position 0 if it has never been seen.
func (s *Store) Read(eventName string) (uint64, error) {
	if s.database == nil {
		return 0, fmt.Errorf("database is nil")
	}

	var cur store.EventCursor
	result := s.database.Client().Where("event_name = ?", eventName).First(&cur)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			cur = store.EventCursor{EventName: eventName, LastProcessedVid: 0}
			if err := s.database.Client().Create(&cur).Error; err != nil {
				return 0, fmt.Errorf("failed to create event cursor: %w", err)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read event cursor: %w", result.Error)
	}

	return cur.LastProcessedVid, nil
}

// Advance atomically applies effect and moves the cursor for eventName to
// newVid. If newVid is at or below the stored position the call is a silent
// no-op and effect never runs: the upstream feed is at-least-once and
// duplicate delivery is tolerated, not an error. Any effect failure rolls the
// whole unit back, leaving the cursor unchanged.
//
// The returned bool reports whether the advancement was applied.
func (s *Store) Advance(eventName string, newVid uint64, effect Effect) (bool, error) {
	if s.database == nil {
		return false, fmt.Errorf("database is nil")
	}

	applied := false
	err := s.database.Client().Transaction(func(tx *gorm.DB) error {
		var cur store.EventCursor
		err := tx.Where("event_name = ?", eventName).First(&cur).Error
		if err == gorm.ErrRecordNotFound {
			cur = store.EventCursor{EventName: eventName, LastProcessedVid: 0}
			if err := tx.Create(&cur).Error; err != nil {
				return fmt.Errorf("failed to create event cursor: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to read event cursor: %w", err)
		}

		if newVid <= cur.LastProcessedVid {
			return nil
		}

		if effect != nil {
			if err := effect(tx); err != nil {
				return err
			}
		}

		// Guard on the position we read so a concurrent advance can't be
		// silently overwritten.
		res := tx.Model(&store.EventCursor{}).
			Where("event_name = ? AND last_processed_vid = ?", eventName, cur.LastProcessedVid).
			Update("last_processed_vid", newVid)
		if res.Error != nil {
			return fmt.Errorf("failed to advance event cursor: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("event cursor for %s moved concurrently", eventName)
		}

		applied = true
		return nil
	})

	return applied, err
}
