package attendance

import "github.com/shiftpunch/attendance/engine/internal/timeutil"

// mergeAction is the decision for one incoming server record.
type mergeAction int

const (
	mergeInsert mergeAction = iota
	mergeOverwrite
	mergeSkipPending
)

// MergeReport summarizes one mergeFromServer pass. SkippedKeys lists the
// punch timestamps whose local pending edits won over the server copy; the
// UI surfaces these as "not yet synced".
type MergeReport struct {
	Inserted                 int     `json:"inserted"`
	Overwritten              int     `json:"overwritten"`
	SkippedDueToPendingLocal int     `json:"skippedDueToPendingLocal"`
	SkippedKeys              []int64 `json:"skippedKeys,omitempty"`
}

// resolveMerge applies the no-clobber rule to a single incoming server
// record: unknown keys are inserted, SYNCED locals are overwritten with the
// server version, PENDING locals always win and the incoming copy is skipped.
func resolveMerge(existing *PunchRecord, incoming PunchRecord) mergeAction {
	if existing == nil {
		return mergeInsert
	}
	if existing.SyncState == SyncStatePending {
		return mergeSkipPending
	}
	return mergeOverwrite
}

// normalizeServerRecord shapes an incoming server record for storage: it is
// authoritative, so it lands as SYNCED regardless of what the wire said.
func normalizeServerRecord(incoming PunchRecord, nowMillis int64) PunchRecord {
	incoming.SyncState = SyncStateSynced
	if incoming.LastSyncedAtMillis == nil {
		at := nowMillis
		incoming.LastSyncedAtMillis = &at
	}
	if incoming.CreatedOnMillis == 0 {
		incoming.CreatedOnMillis = incoming.TimestampMillis
	}
	if incoming.DateOfPunch == "" {
		incoming.DateOfPunch = timeutil.BusinessDate(incoming.TimestampMillis)
	}
	return incoming
}
