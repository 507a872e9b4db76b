package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"racecore/pkg/domain"
)

func seedRaceAndRunners(t *testing.T, store *Store, runnerIDs ...string) domain.Race {
	t.Helper()
	var race domain.Race
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		race, err = tx.CreateRace(domain.Race{Name: "Cross Country", Date: "2024-05-01", FinishLineCount: 2})
		if err != nil {
			return err
		}
		for _, id := range runnerIDs {
			if _, err := tx.CreateRunner(domain.Runner{Base: domain.Base{ID: id}, Name: id, House: "Green", AgeGroup: "U12"}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return race
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindRunner("missing"); ok {
			t.Fatalf("expected missing runner lookup")
		}
		created, err := tx.CreateRace(domain.Race{Name: "Sprint", Date: "2024-03-01"})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if created.Status != domain.RaceStatusPending || created.FinishLineCount != 1 {
			t.Fatalf("expected pending single-lane defaults, got %+v", created)
		}
		if len(tx.Snapshot().ListRaces()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListRaces()) != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListRaces()) != 1 {
			t.Fatalf("expected restored state")
		}
		return nil
	})
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateRunner(domain.Runner{Base: domain.Base{ID: "r1"}, Name: "A", House: "Ross", AgeGroup: "U12"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		if _, ok := v.FindRunner("r1"); ok {
			t.Fatalf("expected rollback of runner insert")
		}
		return nil
	})
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateRace(domain.Race{Name: "Fail", Date: "2024-01-01"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if !violation.Blocks("block") {
		t.Fatalf("expected violation attributed to block rule")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for range changes {
		res.Violations = append(res.Violations, domain.Violation{Rule: "block", Severity: domain.SeverityBlock})
	}
	return res, nil
}

func TestCreateRunnerDuplicateIsConflict(t *testing.T) {
	store := NewStore(nil)
	seedRaceAndRunners(t, store, "r1")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRunner(domain.Runner{Base: domain.Base{ID: "r1"}, Name: "Again"})
		return err
	})
	var conflict domain.ErrConflict
	if !errors.As(err, &conflict) || conflict.Entity != domain.EntityRunner {
		t.Fatalf("expected runner conflict, got %v", err)
	}
}

func TestAppendFinishAssignsLanePositions(t *testing.T) {
	store := NewStore(nil)
	race := seedRaceAndRunners(t, store, "a", "b", "c", "d")
	ctx := context.Background()
	record := func(runner string, line int) domain.FinishRecord {
		var rec domain.FinishRecord
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			rec, err = tx.AppendFinish(domain.FinishRecord{RaceID: race.ID, RunnerID: runner, FinishLine: line, Position: 99})
			return err
		})
		if err != nil {
			t.Fatalf("append %s: %v", runner, err)
		}
		return rec
	}
	if got := record("a", 1).Position; got != 1 {
		t.Fatalf("expected position 1 on lane 1, got %d", got)
	}
	if got := record("b", 2).Position; got != 1 {
		t.Fatalf("expected lane 2 to start at 1, got %d", got)
	}
	if got := record("c", 1).Position; got != 2 {
		t.Fatalf("expected position 2 on lane 1, got %d", got)
	}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendFinish(domain.FinishRecord{RaceID: race.ID, RunnerID: "a", FinishLine: 2})
		return err
	})
	var conflict domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for second finish by same runner, got %v", err)
	}

	_ = store.View(ctx, func(v domain.TransactionView) error {
		lane := v.ListFinishes(domain.FinishFilter{RaceID: race.ID, FinishLine: 1})
		if len(lane) != 2 || lane[0].RunnerID != "a" || lane[1].RunnerID != "c" {
			t.Fatalf("unexpected lane order: %+v", lane)
		}
		return nil
	})
}

func TestAppendFinishRejectsUnknownReferences(t *testing.T) {
	store := NewStore(nil)
	race := seedRaceAndRunners(t, store, "a")
	cases := []struct {
		name string
		rec  domain.FinishRecord
	}{
		{"missing race id", domain.FinishRecord{RunnerID: "a", FinishLine: 1}},
		{"unknown race", domain.FinishRecord{RaceID: "nope", RunnerID: "a", FinishLine: 1}},
		{"unknown runner", domain.FinishRecord{RaceID: race.ID, RunnerID: "ghost", FinishLine: 1}},
		{"lane zero", domain.FinishRecord{RaceID: race.ID, RunnerID: "a", FinishLine: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				_, err := tx.AppendFinish(tc.rec)
				return err
			})
			if err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestAppendFinishConcurrentWritersStayGapFree(t *testing.T) {
	store := NewStore(nil)
	ids := []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"}
	race := seedRaceAndRunners(t, store, ids...)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				_, err := tx.AppendFinish(domain.FinishRecord{RaceID: race.ID, RunnerID: id, FinishLine: 1})
				return err
			})
			if err != nil {
				t.Errorf("append %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		lane := v.ListFinishes(domain.FinishFilter{RaceID: race.ID, FinishLine: 1})
		if len(lane) != len(ids) {
			t.Fatalf("expected %d finishes, got %d", len(ids), len(lane))
		}
		for i, rec := range lane {
			if rec.Position != i+1 {
				t.Fatalf("expected contiguous positions, got %d at index %d", rec.Position, i)
			}
		}
		return nil
	})
}

func TestDeleteFinishesAndHousePoints(t *testing.T) {
	store := NewStore(nil)
	race := seedRaceAndRunners(t, store, "a", "b")
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.AppendFinish(domain.FinishRecord{RaceID: race.ID, RunnerID: "a", FinishLine: 1}); err != nil {
			return err
		}
		if _, err := tx.AppendFinish(domain.FinishRecord{RaceID: race.ID, RunnerID: "b", FinishLine: 1}); err != nil {
			return err
		}
		raceID := race.ID
		if _, err := tx.CreateHousePoints(domain.HousePointsEntry{House: "Green", Points: 10, RaceID: &raceID}); err != nil {
			return err
		}
		_, err := tx.CreateHousePoints(domain.HousePointsEntry{House: "Ross", Points: 9})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		n, err := tx.DeleteFinishes(domain.FinishFilter{RaceID: race.ID, FinishLine: 1, RunnerID: "b"})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected one finish deleted, got %d", n)
		}
		n, err = tx.DeleteFinishes(domain.FinishFilter{RaceID: race.ID, FinishLine: 1, RunnerID: "b"})
		if err != nil || n != 0 {
			t.Fatalf("expected idempotent repeat delete, got %d %v", n, err)
		}
		if _, err := tx.DeleteFinishes(domain.FinishFilter{}); err == nil {
			t.Fatalf("expected unscoped finish delete to be refused")
		}
		n, err = tx.DeleteHousePoints(domain.HousePointsFilter{})
		if err != nil || n != 2 {
			t.Fatalf("expected both ledger entries removed, got %d %v", n, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestUpdateRunnerPreservesIdentity(t *testing.T) {
	store := NewStore(nil)
	seedRaceAndRunners(t, store, "a")
	fixed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		updated, err := tx.UpdateRunner("a", func(r *domain.Runner) error {
			r.ID = "hijack"
			r.House = "Ross"
			return nil
		})
		if err != nil {
			return err
		}
		if updated.ID != "a" || updated.House != "Ross" || !updated.UpdatedAt.Equal(fixed) {
			t.Fatalf("unexpected update result %+v", updated)
		}
		_, err = tx.UpdateRunner("missing", func(*domain.Runner) error { return nil })
		var nf domain.ErrNotFound
		if !errors.As(err, &nf) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMigrateSnapshotInitialisesAndFilters(t *testing.T) {
	snapshot := Snapshot{
		Races: map[string]Race{
			"race": {Base: domain.Base{ID: "race"}, Name: "Old"},
		},
		Finishes: map[string]FinishRecord{
			"orphan-race":   {Base: domain.Base{ID: "orphan-race"}, RaceID: "gone", RunnerID: "r"},
			"orphan-runner": {Base: domain.Base{ID: "orphan-runner"}, RaceID: "race", RunnerID: "gone"},
		},
	}

	migrated := migrateSnapshot(snapshot)

	if migrated.Runners == nil || migrated.Points == nil || migrated.Audit == nil {
		t.Fatalf("expected migrateSnapshot to initialise nil maps")
	}
	if len(migrated.Finishes) != 0 {
		t.Fatalf("expected orphaned finishes to be dropped, got %d", len(migrated.Finishes))
	}
	race := migrated.Races["race"]
	if race.Status != domain.RaceStatusPending || race.FinishLineCount != 1 {
		t.Fatalf("expected race defaults applied, got %+v", race)
	}
}

func TestViewHonoursCancelledContext(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.View(ctx, func(domain.TransactionView) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
