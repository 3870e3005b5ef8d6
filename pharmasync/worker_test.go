package pharmasync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Gouzman/PharmaGo/models"
)

type guardUpdate struct {
	id      string
	isGuard bool
	phone   string
}

type fakeStore struct {
	mu         sync.Mutex
	pharmacies map[string]*models.Pharmacy
	order      []string

	histories    []*models.PharmacyHistory
	issues       []*models.SyncIssue
	guardUpdates []guardUpdate

	finishedStatus string
	finishedErrors int

	failUpsert  map[string]bool
	upsertCalls int
}

func newFakeStore(seed ...*models.Pharmacy) *fakeStore {
	s := &fakeStore{pharmacies: map[string]*models.Pharmacy{}, failUpsert: map[string]bool{}}
	for _, p := range seed {
		cp := *p
		s.pharmacies[p.ID] = &cp
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *fakeStore) GetPharmacies(ctx context.Context) ([]*models.Pharmacy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Pharmacy, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.pharmacies[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) UpsertPharmacy(ctx context.Context, p *models.Pharmacy) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.failUpsert[p.ID] {
		return false, errors.New("write refused")
	}
	if _, ok := s.pharmacies[p.ID]; ok {
		existing := s.pharmacies[p.ID]
		existing.Name = p.Name
		existing.Lat = p.Lat
		existing.Lng = p.Lng
		existing.Address = p.Address
		existing.Commune = p.Commune
		existing.Quartier = p.Quartier
		if p.Phone != "" {
			existing.Phone = p.Phone
		}
		existing.UpdatedAt = p.UpdatedAt
		return false, nil
	}
	cp := *p
	s.pharmacies[p.ID] = &cp
	s.order = append(s.order, p.ID)
	return true, nil
}

func (s *fakeStore) UpdateGuardStatus(ctx context.Context, id string, isGuard bool, phone string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pharmacies[id]
	if !ok {
		return fmt.Errorf("no record %s", id)
	}
	p.IsGuard = isGuard
	if phone != "" {
		p.Phone = phone
	}
	p.UpdatedAt = updatedAt
	s.guardUpdates = append(s.guardUpdates, guardUpdate{id: id, isGuard: isGuard, phone: phone})
	return nil
}

func (s *fakeStore) UpdateConfidenceScore(ctx context.Context, id string, score int, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pharmacies[id]; ok {
		p.ConfidenceScore = score
	}
	return nil
}

func (s *fakeStore) AppendHistory(ctx context.Context, h *models.PharmacyHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, h)
	return nil
}

func (s *fakeStore) CountHistories(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, h := range s.histories {
		counts[h.PharmacyId]++
	}
	return counts, nil
}

func (s *fakeStore) CreateRun(ctx context.Context, triggeredBy string) (*models.SyncRun, error) {
	now := time.Now().UTC()
	return &models.SyncRun{ID: 1, Status: models.SyncRunStatusRunning, TriggeredBy: triggeredBy, StartedAt: &now}, nil
}

func (s *fakeStore) FinishRun(ctx context.Context, run *models.SyncRun, status string, statsJSON []byte, recordsSynced, errorCount int, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedStatus = status
	s.finishedErrors = errorCount
	return nil
}

func (s *fakeStore) CreateIssue(ctx context.Context, issue *models.SyncIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issue)
	return nil
}

func (s *fakeStore) historiesOf(changeType string) []*models.PharmacyHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PharmacyHistory
	for _, h := range s.histories {
		if h.ChangeType == changeType {
			out = append(out, h)
		}
	}
	return out
}

type fakeGeodata struct {
	records []*models.Pharmacy
	skipped int
	err     error
}

func (f *fakeGeodata) FetchPharmacies(ctx context.Context) ([]*models.Pharmacy, int, error) {
	return f.records, f.skipped, f.err
}

type fakeRoster struct {
	candidates []models.GuardCandidate
	err        error
}

func (f *fakeRoster) FetchGuardCandidates(ctx context.Context) ([]models.GuardCandidate, int, error) {
	return f.candidates, 0, f.err
}

type fakeSnapshots struct {
	versions  int64
	published int
	err       error
}

func (f *fakeSnapshots) Publish(ctx context.Context, pharmacies []*models.Pharmacy, now time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.versions++
	f.published = len(pharmacies)
	return f.versions, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testWorker(store Store, geodata GeodataSource, roster RosterSource, snapshots SnapshotSink) *Worker {
	return &Worker{
		Store:            store,
		Geodata:          geodata,
		Roster:           roster,
		Snapshots:        snapshots,
		Logger:           quietLogger(),
		MatchConcurrency: 4,
		WriteConcurrency: 4,
	}
}

func canonical(id, name, commune string, guard bool, lat, lng float64) *models.Pharmacy {
	return &models.Pharmacy{ID: id, Name: name, Commune: commune, IsGuard: guard, Lat: lat, Lng: lng}
}

var cycleTime = time.Date(2026, 8, 22, 6, 0, 0, 0, time.UTC)

func TestRunCycleResetsAndReassignsGuards(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", true, 5.33, -3.96),
		canonical("osm_node_2", "Pharmacie du Soleil", "Yopougon", true, 5.34, -4.08),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", Source: models.SourceDutyRoster},
	}}
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != models.SyncRunStatusSuccess {
		t.Errorf("status = %s", report.Status)
	}
	if report.Stats.GuardResets != 2 || report.Stats.Matched != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}

	if !store.pharmacies["osm_node_1"].IsGuard {
		t.Error("matched record should be on guard")
	}
	if store.pharmacies["osm_node_2"].IsGuard {
		t.Error("record missing from the roster kept its stale guard flag")
	}

	var resets int
	for _, h := range store.historiesOf(models.ChangeTypeGuardStatusChanged) {
		if h.Source == models.SourceCycleReset {
			resets++
			if h.OldValue != "true" || h.NewValue != "false" {
				t.Errorf("reset row: %+v", h)
			}
		}
	}
	if resets != 2 {
		t.Errorf("expected 2 reset history rows, got %d", resets)
	}
}

func TestRunCycleMatchAppliesRosterPhone(t *testing.T) {
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", Phone: "+2250102030405", Source: models.SourceDutyRoster},
	}}

	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96),
	)
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})
	if _, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem); err != nil {
		t.Fatal(err)
	}
	if got := store.pharmacies["osm_node_1"].Phone; got != "+2250102030405" {
		t.Errorf("phone = %q", got)
	}

	// The duty-verified roster number replaces a stale stored one.
	store2 := newFakeStore(&models.Pharmacy{
		ID: "osm_node_1", Name: "Pharmacie Sainte Marie", Commune: "Cocody", Phone: "+2250000000",
	})
	worker2 := testWorker(store2, &fakeGeodata{}, roster, &fakeSnapshots{})
	if _, err := worker2.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem); err != nil {
		t.Fatal(err)
	}
	if got := store2.pharmacies["osm_node_1"].Phone; got != "+2250102030405" {
		t.Errorf("candidate phone not applied: %q", got)
	}

	// A candidate without a number never clears the stored one.
	store3 := newFakeStore(&models.Pharmacy{
		ID: "osm_node_1", Name: "Pharmacie Sainte Marie", Commune: "Cocody", Phone: "+2250000000",
	})
	worker3 := testWorker(store3, &fakeGeodata{}, &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", Source: models.SourceDutyRoster},
	}}, &fakeSnapshots{})
	if _, err := worker3.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem); err != nil {
		t.Fatal(err)
	}
	if got := store3.pharmacies["osm_node_1"].Phone; got != "+2250000000" {
		t.Errorf("stored phone cleared: %q", got)
	}
}

func TestRunCycleMatchRecordsGuardPeriodNotes(t *testing.T) {
	start := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", GuardStart: &start, GuardEnd: &end, Source: models.SourceDutyRoster},
	}}
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})

	if _, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem); err != nil {
		t.Fatal(err)
	}

	var matched *models.PharmacyHistory
	for _, h := range store.historiesOf(models.ChangeTypeGuardStatusChanged) {
		if h.Source == models.SourceDutyRoster {
			matched = h
		}
	}
	if matched == nil {
		t.Fatal("no matched history row")
	}
	if matched.Notes != "Garde du 22/08 au 29/08" {
		t.Errorf("notes = %q", matched.Notes)
	}
}

func TestRunCycleConflictTouchesNothing(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Nouvelle Gare Routière", "Cocody", false, 5.33, -3.96),
		canonical("osm_node_2", "Pharmacie Nouvelle Gare Routière Sud", "Cocody", false, 5.35, -3.94),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Nouvelle Gare Routière Nord", City: "Cocody", Source: models.SourceDutyRoster},
	}}
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Stats.Conflicts != 1 || report.Stats.Matched != 0 {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if len(store.guardUpdates) != 0 {
		t.Errorf("conflict must not write guard updates, got %+v", store.guardUpdates)
	}

	conflicts := store.historiesOf(models.ChangeTypeMatchingConflict)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict row, got %d", len(conflicts))
	}
	h := conflicts[0]
	if !strings.HasPrefix(h.PharmacyId, "conflict_") || !h.NeedsReview {
		t.Errorf("conflict row: %+v", h)
	}
}

func TestRunCycleUnmatchedGoesToReviewQueue(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Inconnue du Nord", City: "Bouaké", Source: models.SourceDutyRoster},
	}}
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Stats.Unmatched != 1 {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if len(store.guardUpdates) != 0 {
		t.Error("unmatched candidate must not touch records")
	}

	rows := store.historiesOf(models.ChangeTypeUnmatchedGuard)
	if len(rows) != 1 {
		t.Fatalf("expected 1 unmatched row, got %d", len(rows))
	}
	if !strings.HasPrefix(rows[0].PharmacyId, "unmatched_") || !rows[0].NeedsReview {
		t.Errorf("unmatched row: %+v", rows[0])
	}
}

func TestRunCycleOneOutcomePerCandidate(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96),
		canonical("osm_node_2", "Pharmacie Nouvelle Gare Routière", "Cocody", false, 5.35, -3.94),
		canonical("osm_node_3", "Pharmacie Nouvelle Gare Routière Sud", "Cocody", false, 5.36, -3.93),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", Source: models.SourceDutyRoster},
		{Name: "Pharmacie Nouvelle Gare Routière Nord", City: "Cocody", Source: models.SourceDutyRoster},
		{Name: "Pharmacie Fantôme", City: "Daloa", Source: models.SourceDutyRoster},
	}}
	worker := testWorker(store, &fakeGeodata{}, roster, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Stats.Matched != 1 || report.Stats.Conflicts != 1 || report.Stats.Unmatched != 1 {
		t.Fatalf("stats = %+v", report.Stats)
	}

	outcomes := len(store.historiesOf(models.ChangeTypeMatchingConflict)) +
		len(store.historiesOf(models.ChangeTypeUnmatchedGuard))
	for _, h := range store.historiesOf(models.ChangeTypeGuardStatusChanged) {
		if h.Source == models.SourceDutyRoster {
			outcomes++
		}
	}
	if outcomes != len(roster.candidates) {
		t.Errorf("expected one outcome per candidate, got %d for %d candidates", outcomes, len(roster.candidates))
	}
}

func TestRunCycleHarvestCreatesAndUpdates(t *testing.T) {
	existing := canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96)
	store := newFakeStore(existing)

	fresh := &models.Pharmacy{ID: "osm_node_9", Name: "Pharmacie Nouvelle", Commune: "Marcory", Lat: 5.29, Lng: -3.99, UpdatedAt: cycleTime}
	changed := &models.Pharmacy{ID: "osm_node_1", Name: "Pharmacie Sainte Marie", Commune: "Cocody", Address: "Rue des Jardins", Lat: 5.33, Lng: -3.96, UpdatedAt: cycleTime}
	worker := testWorker(store, &fakeGeodata{records: []*models.Pharmacy{fresh, changed}}, &fakeRoster{}, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Stats.Created != 1 || report.Stats.Updated != 1 {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if store.pharmacies["osm_node_1"].Address != "Rue des Jardins" {
		t.Error("update not applied")
	}
	created := store.historiesOf(models.ChangeTypeCreated)
	if len(created) != 1 || created[0].PharmacyId != "osm_node_9" {
		t.Errorf("created history rows: %+v", created)
	}
}

func TestRunCyclePartialOnWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.failUpsert["osm_node_9"] = true

	records := []*models.Pharmacy{
		{ID: "osm_node_9", Name: "Pharmacie Refusée", Lat: 5.1, Lng: -4.1, UpdatedAt: cycleTime},
		{ID: "osm_node_10", Name: "Pharmacie Acceptée", Lat: 5.2, Lng: -4.2, UpdatedAt: cycleTime},
	}
	worker := testWorker(store, &fakeGeodata{records: records}, &fakeRoster{}, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != models.SyncRunStatusPartial {
		t.Errorf("status = %s", report.Status)
	}
	if report.Stats.Created != 1 || report.Stats.WriteFailures != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if store.finishedStatus != models.SyncRunStatusPartial {
		t.Errorf("run closed as %s", store.finishedStatus)
	}

	var found bool
	for _, issue := range store.issues {
		if issue.Code == "upsert_failed" && issue.EntityId == "osm_node_9" {
			found = true
		}
	}
	if !found {
		t.Error("failed write should be recorded as an issue")
	}
}

func TestRunCycleFatalWhenMapSourceExhausted(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", true, 5.33, -3.96),
	)
	worker := testWorker(store, &fakeGeodata{err: errors.New("all endpoints failed")}, &fakeRoster{}, &fakeSnapshots{})

	_, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err == nil {
		t.Fatal("expected error")
	}
	if store.finishedStatus != models.SyncRunStatusFailed {
		t.Errorf("run closed as %q", store.finishedStatus)
	}
	if len(store.guardUpdates) != 0 || store.upsertCalls != 0 {
		t.Error("a failed fetch must not mutate anything")
	}
	if store.pharmacies["osm_node_1"].IsGuard != true {
		t.Error("guard flag was touched")
	}
}

func TestRunCycleKeepsGuardsWhenRosterDown(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", true, 5.33, -3.96),
	)
	worker := testWorker(store, &fakeGeodata{}, &fakeRoster{err: errors.New("site unreachable")}, &fakeSnapshots{})

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != models.SyncRunStatusPartial {
		t.Errorf("status = %s", report.Status)
	}
	if !store.pharmacies["osm_node_1"].IsGuard {
		t.Error("guard rotation must survive a roster outage")
	}

	var found bool
	for _, issue := range store.issues {
		if issue.Code == "roster_unavailable" {
			found = true
		}
	}
	if !found {
		t.Error("roster outage should be recorded as an issue")
	}
}

func TestRunCycleRescoresAndPublishes(t *testing.T) {
	store := newFakeStore(
		canonical("osm_node_1", "Pharmacie Sainte Marie", "Cocody", false, 5.33, -3.96),
	)
	roster := &fakeRoster{candidates: []models.GuardCandidate{
		{Name: "Pharmacie Sainte Marie", City: "Cocody", Phone: "+2250102030405", Source: models.SourceDutyRoster},
	}}
	snapshots := &fakeSnapshots{}
	worker := testWorker(store, &fakeGeodata{}, roster, snapshots)

	report, err := worker.RunCycle(context.Background(), cycleTime, models.SyncTriggeredSystem)
	if err != nil {
		t.Fatal(err)
	}
	if report.SnapshotVersion != 1 || snapshots.published != 1 {
		t.Errorf("snapshot not published: %+v", report)
	}

	// osm prefix (60) + guard (20) + phone (10); history count is below the
	// activity threshold.
	if got := store.pharmacies["osm_node_1"].ConfidenceScore; got != 90 {
		t.Errorf("confidence = %d", got)
	}
}

func TestNewWorkerConcurrencyFromEnv(t *testing.T) {
	t.Setenv("SYNC_MATCH_CONCURRENCY", "3")
	t.Setenv("SYNC_WRITE_CONCURRENCY", "2")

	worker := NewWorker(newFakeStore(), &fakeGeodata{}, &fakeRoster{}, &fakeSnapshots{}, nil)
	if worker.MatchConcurrency != 3 || worker.WriteConcurrency != 2 {
		t.Errorf("concurrency = %d/%d", worker.MatchConcurrency, worker.WriteConcurrency)
	}
}
