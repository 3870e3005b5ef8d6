// Package pharmasync runs the reconciliation cycle: harvest the map source,
// fetch the duty roster, reset and re-assign guard flags, rescore confidence
// and publish a fresh snapshot, with full bookkeeping per run.
package pharmasync

import "time"

// CycleStats is persisted as the run's stats JSON and published with the
// completion event.
type CycleStats struct {
	Harvested      int `json:"harvested"`
	HarvestSkipped int `json:"harvest_skipped"`
	Duplicates     int `json:"duplicates"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	RosterEntries  int `json:"roster_entries"`
	RosterSkipped  int `json:"roster_skipped"`
	GuardResets    int `json:"guard_resets"`
	Matched        int `json:"matched"`
	Unmatched      int `json:"unmatched"`
	Conflicts      int `json:"conflicts"`
	Scored         int `json:"scored"`
	NearDuplicates int `json:"near_duplicates"`
	WriteFailures  int `json:"write_failures"`
}

// CycleReport is what RunCycle hands back to its caller.
type CycleReport struct {
	RunId           uint       `json:"run_id"`
	Status          string     `json:"status"`
	Stats           CycleStats `json:"stats"`
	SnapshotVersion int64      `json:"snapshot_version,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
}

// CyclePubSubPayload is the completion event body.
type CyclePubSubPayload struct {
	RunId           uint       `json:"run_id"`
	Status          string     `json:"status"`
	TriggeredBy     string     `json:"triggered_by"`
	SnapshotVersion int64      `json:"snapshot_version,omitempty"`
	Stats           CycleStats `json:"stats"`
	FinishedAt      time.Time  `json:"finished_at"`
}

type TriggerSyncRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

type TriggerSyncResponse struct {
	Report *CycleReport `json:"report"`
}

type ValidateHistoryRequest struct {
	ValidatedBy string `json:"validated_by" binding:"required"`
}
