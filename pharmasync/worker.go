package pharmasync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Gouzman/PharmaGo/config"
	"github.com/Gouzman/PharmaGo/models"
	"github.com/Gouzman/PharmaGo/reconcile"
	"github.com/Gouzman/PharmaGo/utils"
)

// Distance under which two canonical records are flagged as likely duplicates.
// Advisory only; records are never merged automatically.
const nearDuplicateKm = 0.05

type GeodataSource interface {
	FetchPharmacies(ctx context.Context) ([]*models.Pharmacy, int, error)
}

type RosterSource interface {
	FetchGuardCandidates(ctx context.Context) ([]models.GuardCandidate, int, error)
}

// SnapshotSink persists and caches the published document, returning its
// version.
type SnapshotSink interface {
	Publish(ctx context.Context, pharmacies []*models.Pharmacy, now time.Time) (int64, error)
}

// EventPublisher emits the cycle-completed event. May be left nil.
type EventPublisher interface {
	PublishCycleRun(ctx context.Context, payload CyclePubSubPayload) error
}

type Worker struct {
	Store     Store
	Geodata   GeodataSource
	Roster    RosterSource
	Snapshots SnapshotSink
	Events    EventPublisher
	Logger    *logrus.Logger

	// Upper bounds on in-flight goroutines; zero means sequential.
	MatchConcurrency int
	WriteConcurrency int
}

func NewWorker(store Store, geodata GeodataSource, roster RosterSource, snapshots SnapshotSink, events EventPublisher) *Worker {
	return &Worker{
		Store:            store,
		Geodata:          geodata,
		Roster:           roster,
		Snapshots:        snapshots,
		Events:           events,
		Logger:           config.GetLogger(),
		MatchConcurrency: utils.EnvIntOrDefault("SYNC_MATCH_CONCURRENCY", 8),
		WriteConcurrency: utils.EnvIntOrDefault("SYNC_WRITE_CONCURRENCY", 8),
	}
}

// keyedMutex serializes writes per canonical record so two candidates matching
// the same record cannot interleave their guard update and history append.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RunCycle executes one full reconciliation cycle. It returns a report even on
// partial outcomes; the error is non-nil only when the cycle could not run at
// all (bookkeeping, the map source, or the canonical set unavailable). Those
// fatal paths happen before any guard flag is touched.
func (w *Worker) RunCycle(ctx context.Context, now time.Time, triggeredBy string) (*CycleReport, error) {
	run, err := w.Store.CreateRun(ctx, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	w.Logger.WithFields(logrus.Fields{"run_id": run.ID, "triggered_by": triggeredBy}).
		Info("reconciliation cycle started")

	var stats CycleStats
	var statsMu sync.Mutex

	report, err := w.runCycle(ctx, run, now, &stats, &statsMu)
	if err != nil {
		config.LogError(w.Logger, "pharmasync", "RunCycle", "cycle aborted", logrus.Fields{"run_id": run.ID}, err)
		if finishErr := w.Store.FinishRun(ctx, run, models.SyncRunStatusFailed,
			models.MarshalPayload(stats), 0, stats.WriteFailures+1, err.Error()); finishErr != nil {
			config.LogError(w.Logger, "pharmasync", "RunCycle", "failed to close aborted run", nil, finishErr)
		}
		return nil, err
	}
	return report, nil
}

func (w *Worker) runCycle(ctx context.Context, run *models.SyncRun, now time.Time, stats *CycleStats, statsMu *sync.Mutex) (*CycleReport, error) {
	// Both sources are fetched up front and concurrently. The map source is
	// required; the roster degrades to a harvest-only cycle.
	var (
		harvested  []*models.Pharmacy
		candidates []models.GuardCandidate
		rosterErr  error
	)
	fetchGroup, fetchCtx := errgroup.WithContext(ctx)
	fetchGroup.Go(func() error {
		records, skipped, err := w.Geodata.FetchPharmacies(fetchCtx)
		if err != nil {
			return fmt.Errorf("map source: %w", err)
		}
		harvested = records
		stats.Harvested = len(records)
		stats.HarvestSkipped = skipped
		return nil
	})
	fetchGroup.Go(func() error {
		entries, skipped, err := w.Roster.FetchGuardCandidates(fetchCtx)
		if err != nil {
			rosterErr = err
			return nil
		}
		candidates = entries
		stats.RosterEntries = len(entries)
		stats.RosterSkipped = skipped
		return nil
	})
	if err := fetchGroup.Wait(); err != nil {
		return nil, err
	}

	deduped, duplicates := reconcile.Dedupe(harvested)
	stats.Duplicates = duplicates

	w.upsertHarvest(ctx, run, deduped, stats, statsMu)

	// The canonical set is loaded once, after the harvest writes, and every
	// later phase works against this fixed snapshot.
	snapshot, err := w.Store.GetPharmacies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load canonical set: %w", err)
	}

	if rosterErr != nil {
		// No roster means no safe basis for resetting guard flags; keep the
		// previous rotation in place and surface the failure.
		config.LogError(w.Logger, "pharmasync", "runCycle", "duty roster unavailable, keeping previous guard rotation",
			logrus.Fields{"run_id": run.ID}, rosterErr)
		w.recordIssue(ctx, run, &models.SyncIssue{
			SyncRunId:  run.ID,
			EntityType: "roster",
			Code:       "roster_unavailable",
			Message:    rosterErr.Error(),
			Retryable:  true,
		})
		statsMu.Lock()
		stats.WriteFailures++ // counted so the run closes as partial
		statsMu.Unlock()
	} else {
		w.resetGuardFlags(ctx, run, snapshot, now, stats, statsMu)
		w.applyRoster(ctx, run, candidates, snapshot, now, stats, statsMu)
	}

	w.rescoreConfidence(ctx, run, snapshot, now, stats, statsMu)
	w.flagNearDuplicates(ctx, run, snapshot, stats, statsMu)

	var snapshotVersion int64
	if w.Snapshots != nil {
		version, err := w.Snapshots.Publish(ctx, snapshot, now)
		if err != nil {
			config.LogError(w.Logger, "pharmasync", "runCycle", "snapshot publish failed",
				logrus.Fields{"run_id": run.ID}, err)
			w.recordIssue(ctx, run, &models.SyncIssue{
				SyncRunId:  run.ID,
				EntityType: "snapshot",
				Code:       "snapshot_publish_failed",
				Message:    err.Error(),
				Retryable:  true,
			})
			statsMu.Lock()
			stats.WriteFailures++
			statsMu.Unlock()
		} else {
			snapshotVersion = version
		}
	}

	status := models.SyncRunStatusSuccess
	if stats.WriteFailures > 0 {
		status = models.SyncRunStatusPartial
	}
	recordsSynced := stats.Created + stats.Updated
	if err := w.Store.FinishRun(ctx, run, status, models.MarshalPayload(*stats),
		recordsSynced, stats.WriteFailures, ""); err != nil {
		return nil, fmt.Errorf("finish sync run: %w", err)
	}

	finishedAt := time.Now().UTC()
	report := &CycleReport{
		RunId:           run.ID,
		Status:          status,
		Stats:           *stats,
		SnapshotVersion: snapshotVersion,
		FinishedAt:      finishedAt,
	}
	if run.StartedAt != nil {
		report.StartedAt = *run.StartedAt
	}

	if w.Events != nil {
		payload := CyclePubSubPayload{
			RunId:           run.ID,
			Status:          status,
			TriggeredBy:     run.TriggeredBy,
			SnapshotVersion: snapshotVersion,
			Stats:           *stats,
			FinishedAt:      finishedAt,
		}
		if err := w.Events.PublishCycleRun(ctx, payload); err != nil {
			config.LogError(w.Logger, "pharmasync", "runCycle", "cycle event publish failed",
				logrus.Fields{"run_id": run.ID}, err)
		}
	}

	w.Logger.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"status":     status,
		"matched":    stats.Matched,
		"unmatched":  stats.Unmatched,
		"conflicts":  stats.Conflicts,
		"created":    stats.Created,
		"updated":    stats.Updated,
		"duration":   finishedAt.Sub(report.StartedAt).String(),
	}).Info("reconciliation cycle finished")
	return report, nil
}

// upsertHarvest writes the deduplicated harvest into the canonical set. A
// failed write skips that record only.
func (w *Worker) upsertHarvest(ctx context.Context, run *models.SyncRun, records []*models.Pharmacy, stats *CycleStats, statsMu *sync.Mutex) {
	group, groupCtx := errgroup.WithContext(ctx)
	if w.WriteConcurrency > 0 {
		group.SetLimit(w.WriteConcurrency)
	} else {
		group.SetLimit(1)
	}

	for _, record := range records {
		record := record
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return nil
			}
			created, err := w.Store.UpsertPharmacy(groupCtx, record)
			if err != nil {
				config.LogError(w.Logger, "pharmasync", "upsertHarvest", "upsert failed",
					logrus.Fields{"pharmacy_id": record.ID}, err)
				w.recordIssue(groupCtx, run, &models.SyncIssue{
					SyncRunId:   run.ID,
					EntityType:  "pharmacy",
					EntityId:    record.ID,
					Code:        "upsert_failed",
					Message:     err.Error(),
					PayloadJSON: models.MarshalPayload(record),
					Retryable:   true,
				})
				statsMu.Lock()
				stats.WriteFailures++
				statsMu.Unlock()
				return nil
			}

			statsMu.Lock()
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
			statsMu.Unlock()

			if created {
				w.appendHistory(groupCtx, run, &models.PharmacyHistory{
					PharmacyId: record.ID,
					ChangeType: models.ChangeTypeCreated,
					Source:     models.SourceGeodata,
					NewValues:  models.MarshalPayload(record),
				}, stats, statsMu)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// resetGuardFlags clears every guard flag at the start of the rotation so that
// stale flags cannot survive a cycle. Each cleared flag gets a history row.
func (w *Worker) resetGuardFlags(ctx context.Context, run *models.SyncRun, snapshot []*models.Pharmacy, now time.Time, stats *CycleStats, statsMu *sync.Mutex) {
	for _, p := range snapshot {
		if !p.IsGuard {
			continue
		}
		if err := w.Store.UpdateGuardStatus(ctx, p.ID, false, "", now); err != nil {
			config.LogError(w.Logger, "pharmasync", "resetGuardFlags", "guard reset failed",
				logrus.Fields{"pharmacy_id": p.ID}, err)
			w.recordIssue(ctx, run, &models.SyncIssue{
				SyncRunId:  run.ID,
				EntityType: "pharmacy",
				EntityId:   p.ID,
				Code:       "guard_reset_failed",
				Message:    err.Error(),
				Retryable:  true,
			})
			statsMu.Lock()
			stats.WriteFailures++
			statsMu.Unlock()
			continue
		}
		p.IsGuard = false
		statsMu.Lock()
		stats.GuardResets++
		statsMu.Unlock()
		w.appendHistory(ctx, run, &models.PharmacyHistory{
			PharmacyId:   p.ID,
			ChangeType:   models.ChangeTypeGuardStatusChanged,
			Source:       models.SourceCycleReset,
			FieldChanged: "is_guard",
			OldValue:     "true",
			NewValue:     "false",
		}, stats, statsMu)
	}
}

// applyRoster resolves every candidate against the snapshot. A match turns the
// guard flag back on and applies the roster's phone number when it carries one;
// unmatched and conflicting candidates become review-queue history entries and
// never touch a canonical record.
func (w *Worker) applyRoster(ctx context.Context, run *models.SyncRun, candidates []models.GuardCandidate, snapshot []*models.Pharmacy, now time.Time, stats *CycleStats, statsMu *sync.Mutex) {
	var writeLocks keyedMutex

	group, groupCtx := errgroup.WithContext(ctx)
	if w.MatchConcurrency > 0 {
		group.SetLimit(w.MatchConcurrency)
	} else {
		group.SetLimit(1)
	}

	for _, candidate := range candidates {
		candidate := candidate
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return nil
			}
			result := reconcile.Match(candidate, snapshot)
			switch result.Outcome {
			case reconcile.OutcomeMatched:
				w.applyMatch(groupCtx, run, candidate, result.Record, &writeLocks, now, stats, statsMu)
			case reconcile.OutcomeConflict:
				ids := make([]string, 0, len(result.Candidates))
				for _, c := range result.Candidates {
					ids = append(ids, c.ID)
				}
				statsMu.Lock()
				stats.Conflicts++
				statsMu.Unlock()
				w.appendHistory(groupCtx, run, &models.PharmacyHistory{
					PharmacyId:  models.SyntheticConflictId(),
					ChangeType:  models.ChangeTypeMatchingConflict,
					Source:      candidate.Source,
					NeedsReview: true,
					NewValues: models.MarshalPayload(map[string]interface{}{
						"candidate":     candidate,
						"candidate_ids": ids,
					}),
					Notes: fmt.Sprintf("%q (%s) matched %d records; manual resolution required", candidate.Name, candidate.City, len(ids)),
				}, stats, statsMu)
			default:
				statsMu.Lock()
				stats.Unmatched++
				statsMu.Unlock()
				subjectId := models.SyntheticUnmatchedId()
				if config.AutoCreateUnmatchedGuards() {
					if id, ok := w.createFromCandidate(groupCtx, run, candidate, now, stats, statsMu); ok {
						subjectId = id
					}
				}
				w.appendHistory(groupCtx, run, &models.PharmacyHistory{
					PharmacyId:  subjectId,
					ChangeType:  models.ChangeTypeUnmatchedGuard,
					Source:      candidate.Source,
					NeedsReview: true,
					NewValues:   models.MarshalPayload(candidate),
					Notes:       fmt.Sprintf("%q (%s) has no canonical record", candidate.Name, candidate.City),
				}, stats, statsMu)
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (w *Worker) applyMatch(ctx context.Context, run *models.SyncRun, candidate models.GuardCandidate, record *models.Pharmacy, locks *keyedMutex, now time.Time, stats *CycleStats, statsMu *sync.Mutex) {
	unlock := locks.lock(record.ID)
	defer unlock()

	// The roster number is duty-verified and fresher than the harvested one;
	// when the candidate carries a phone it replaces whatever is stored.
	if err := w.Store.UpdateGuardStatus(ctx, record.ID, true, candidate.Phone, now); err != nil {
		config.LogError(w.Logger, "pharmasync", "applyMatch", "guard update failed",
			logrus.Fields{"pharmacy_id": record.ID}, err)
		w.recordIssue(ctx, run, &models.SyncIssue{
			SyncRunId:   run.ID,
			EntityType:  "pharmacy",
			EntityId:    record.ID,
			Code:        "guard_update_failed",
			Message:     err.Error(),
			PayloadJSON: models.MarshalPayload(candidate),
			Retryable:   true,
		})
		statsMu.Lock()
		stats.WriteFailures++
		statsMu.Unlock()
		return
	}
	record.IsGuard = true
	if candidate.Phone != "" {
		record.Phone = candidate.Phone
	}
	statsMu.Lock()
	stats.Matched++
	statsMu.Unlock()

	w.appendHistory(ctx, run, &models.PharmacyHistory{
		PharmacyId:   record.ID,
		ChangeType:   models.ChangeTypeGuardStatusChanged,
		Source:       candidate.Source,
		FieldChanged: "is_guard",
		OldValue:     "false",
		NewValue:     "true",
		NewValues:    models.MarshalPayload(candidate),
		Notes:        guardPeriodNotes(candidate),
	}, stats, statsMu)
}

// guardPeriodNotes renders the rotation window for the audit row,
// e.g. "Garde du 22/08 au 29/08".
func guardPeriodNotes(c models.GuardCandidate) string {
	if c.GuardStart == nil {
		return ""
	}
	if c.GuardEnd == nil {
		return fmt.Sprintf("Garde du %s", c.GuardStart.Format("02/01"))
	}
	return fmt.Sprintf("Garde du %s au %s", c.GuardStart.Format("02/01"), c.GuardEnd.Format("02/01"))
}

// createFromCandidate provisions a canonical record straight from a roster
// candidate. Off by default: candidates carry no coordinates, so the record
// lands at 0,0 until someone reviews it.
func (w *Worker) createFromCandidate(ctx context.Context, run *models.SyncRun, candidate models.GuardCandidate, now time.Time, stats *CycleStats, statsMu *sync.Mutex) (string, bool) {
	record := &models.Pharmacy{
		ID:        "pdg_" + uuid.NewString()[:8],
		Name:      candidate.Name,
		Commune:   candidate.City,
		Quartier:  candidate.Quartier,
		Phone:     candidate.Phone,
		IsGuard:   true,
		UpdatedAt: now,
	}
	record.SetAssurances(nil)
	record.DedupeKey = reconcile.DedupeKey(record.Name, 0, 0)
	if _, err := w.Store.UpsertPharmacy(ctx, record); err != nil {
		config.LogError(w.Logger, "pharmasync", "createFromCandidate", "auto-create failed",
			logrus.Fields{"name": candidate.Name}, err)
		statsMu.Lock()
		stats.WriteFailures++
		statsMu.Unlock()
		return "", false
	}
	statsMu.Lock()
	stats.Created++
	statsMu.Unlock()
	w.appendHistory(ctx, run, &models.PharmacyHistory{
		PharmacyId: record.ID,
		ChangeType: models.ChangeTypeCreated,
		Source:     candidate.Source,
		NewValues:  models.MarshalPayload(record),
	}, stats, statsMu)
	return record.ID, true
}

// rescoreConfidence recomputes every record's score from its current state and
// full history count, writing only actual changes.
func (w *Worker) rescoreConfidence(ctx context.Context, run *models.SyncRun, snapshot []*models.Pharmacy, now time.Time, stats *CycleStats, statsMu *sync.Mutex) {
	counts, err := w.Store.CountHistories(ctx)
	if err != nil {
		config.LogError(w.Logger, "pharmasync", "rescoreConfidence", "history counts unavailable, scores unchanged", nil, err)
		w.recordIssue(ctx, run, &models.SyncIssue{
			SyncRunId:  run.ID,
			EntityType: "scoring",
			Code:       "history_count_failed",
			Message:    err.Error(),
			Retryable:  true,
		})
		statsMu.Lock()
		stats.WriteFailures++
		statsMu.Unlock()
		return
	}

	for _, p := range snapshot {
		score := reconcile.Score(p, counts[p.ID])
		if score == p.ConfidenceScore {
			continue
		}
		if err := w.Store.UpdateConfidenceScore(ctx, p.ID, score, now); err != nil {
			config.LogError(w.Logger, "pharmasync", "rescoreConfidence", "score update failed",
				logrus.Fields{"pharmacy_id": p.ID}, err)
			statsMu.Lock()
			stats.WriteFailures++
			statsMu.Unlock()
			continue
		}
		p.ConfidenceScore = score
		statsMu.Lock()
		stats.Scored++
		statsMu.Unlock()
	}
}

// flagNearDuplicates surfaces canonical records within ~50m of each other for
// manual review. They are never merged here.
func (w *Worker) flagNearDuplicates(ctx context.Context, run *models.SyncRun, snapshot []*models.Pharmacy, stats *CycleStats, statsMu *sync.Mutex) {
	if !config.NearDuplicateReviewEnabled() {
		return
	}
	pairs := reconcile.NearbyPairs(snapshot, nearDuplicateKm)
	for _, pair := range pairs {
		config.LogWarn(w.Logger, "pharmasync", "flagNearDuplicates", "possible duplicate records",
			fmt.Sprintf("%s and %s are %.0fm apart", pair.A.ID, pair.B.ID, pair.DistanceKm*1000))
		w.recordIssue(ctx, run, &models.SyncIssue{
			SyncRunId:  run.ID,
			EntityType: "pharmacy",
			EntityId:   pair.A.ID,
			Code:       "near_duplicate",
			Message:    fmt.Sprintf("within %.0fm of %s", pair.DistanceKm*1000, pair.B.ID),
			PayloadJSON: models.MarshalPayload(map[string]interface{}{
				"a": pair.A.ID, "b": pair.B.ID, "distance_km": pair.DistanceKm,
			}),
		})
	}
	statsMu.Lock()
	stats.NearDuplicates = len(pairs)
	statsMu.Unlock()
}

func (w *Worker) appendHistory(ctx context.Context, run *models.SyncRun, h *models.PharmacyHistory, stats *CycleStats, statsMu *sync.Mutex) {
	if err := w.Store.AppendHistory(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
		config.LogError(w.Logger, "pharmasync", "appendHistory", "history append failed",
			logrus.Fields{"pharmacy_id": h.PharmacyId, "change_type": h.ChangeType}, err)
		w.recordIssue(ctx, run, &models.SyncIssue{
			SyncRunId:   run.ID,
			EntityType:  "history",
			EntityId:    h.PharmacyId,
			Code:        "history_append_failed",
			Message:     err.Error(),
			PayloadJSON: models.MarshalPayload(h),
			Retryable:   true,
		})
		statsMu.Lock()
		stats.WriteFailures++
		statsMu.Unlock()
	}
}

func (w *Worker) recordIssue(ctx context.Context, run *models.SyncRun, issue *models.SyncIssue) {
	if err := w.Store.CreateIssue(ctx, issue); err != nil {
		config.LogError(w.Logger, "pharmasync", "recordIssue", "sync issue not recorded",
			logrus.Fields{"run_id": run.ID, "code": issue.Code}, err)
	}
}
