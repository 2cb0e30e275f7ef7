// Package history maintains the append-only audit trail carried by each
// complaint. Past entries are never mutated or dropped.
package history

import (
	"time"

	"airtech/internal/domain"
)

// Append returns existing plus exactly one new entry: Created when the
// trail is empty, Updated otherwise. The input slice is not modified.
func Append(existing []domain.HistoryEntry, actorEmail string, now time.Time) []domain.HistoryEntry {
	action := domain.ActionUpdated
	if len(existing) == 0 {
		action = domain.ActionCreated
	}
	out := make([]domain.HistoryEntry, 0, len(existing)+1)
	out = append(out, existing...)
	out = append(out, domain.HistoryEntry{
		Action:    action,
		User:      actorEmail,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	return out
}

// Backfill synthesizes the single Created entry for legacy records stored
// without history. Only the migration path calls this, never a normal
// write.
func Backfill(createdBy, createdAt string) []domain.HistoryEntry {
	if createdBy == "" {
		createdBy = "Unknown"
	}
	return []domain.HistoryEntry{{
		Action:    domain.ActionCreated,
		User:      createdBy,
		Timestamp: createdAt,
	}}
}
