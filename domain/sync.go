package domain

import "fmt"

// SyncOutcome is the per-record result of one reconciliation call. It is
// never persisted; callers inspect the two surface flags to tell partial
// success from total success or total failure. For delete propagation the
// surface flags mean "deleted on that surface" instead of "created/updated".
type SyncOutcome struct {
	Success        bool   `json:"success"`
	IdentitySynced bool   `json:"identity_surface_synced"`
	ProfileSynced  bool   `json:"profile_surface_synced"`
	Message        string `json:"message,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
}

// FailedOutcome builds a terminal failure outcome with neither surface synced.
func FailedOutcome(format string, args ...any) SyncOutcome {
	return SyncOutcome{Message: fmt.Sprintf(format, args...)}
}

// RecordOutcome pairs a record key (email, or external id when no email is
// known) with its outcome inside a bulk result.
type RecordOutcome struct {
	Key     string      `json:"key"`
	Outcome SyncOutcome `json:"outcome"`
}

// BulkSyncResult aggregates the outcomes of one bulk run.
type BulkSyncResult struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Details    []RecordOutcome `json:"details,omitempty"`
}

// Add records one outcome and updates the counters.
func (r *BulkSyncResult) Add(key string, outcome SyncOutcome) {
	r.Total++
	if outcome.Success {
		r.Successful++
	} else {
		r.Failed++
	}
	r.Details = append(r.Details, RecordOutcome{Key: key, Outcome: outcome})
}

// FirstFailures returns up to n failed record outcomes, in run order, for
// human-readable reporting.
func (r *BulkSyncResult) FirstFailures(n int) []RecordOutcome {
	failures := make([]RecordOutcome, 0, n)
	for _, d := range r.Details {
		if d.Outcome.Success {
			continue
		}
		failures = append(failures, d)
		if len(failures) == n {
			break
		}
	}
	return failures
}
