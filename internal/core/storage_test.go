package core

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"racecore/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: StorageMemory}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(io.Closer); ok {
		t.Fatalf("memory store holds no connections")
	}
}

func TestOpenPersistentStoreSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.db")
	ctx := context.Background()
	store, err := OpenPersistentStore(ctx, StorageConfig{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	svc := NewService(store, WithClock(newStepClock()))
	mustAddRunner(t, svc, "A", "Ann", "Green")
	race := mustCreateRace(t, svc, 1)
	sess := mustSession(t, svc, race.ID)
	if _, err := sess.RecordFinish(ctx, "A", 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.(io.Closer).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenPersistentStore(ctx, StorageConfig{Driver: StorageSQLite, SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.(io.Closer).Close() }()
	svc = NewService(reopened)
	sess = mustSession(t, svc, race.ID)
	if lane := sess.FinishOrder(1); len(lane) != 1 || lane[0].RunnerID != "A" || lane[0].Position != 1 {
		t.Fatalf("finish not persisted: %+v", lane)
	}
	if _, err := sess.RecordFinish(ctx, "A", 1); err == nil {
		t.Fatalf("expected already finished after reopen")
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: "cassandra"}, domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

// openSharedSQLite opens n independent stores on one sqlite file, the way
// separate racecore processes would.
func openSharedSQLite(t *testing.T, n int) []*Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "race.db")
	services := make([]*Service, 0, n)
	for i := 0; i < n; i++ {
		store, err := OpenPersistentStore(context.Background(), StorageConfig{Driver: StorageSQLite, SQLitePath: path}, NewDefaultRulesEngine())
		if err != nil {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Cleanup(func() { _ = store.(io.Closer).Close() })
		services = append(services, NewService(store, WithClock(newStepClock())))
	}
	return services
}

func TestSessionsOnSeparateHandlesShareOneLane(t *testing.T) {
	services := openSharedSQLite(t, 2)
	ids := seedRunners(t, services[0], 16)
	race := mustCreateRace(t, services[0], 2)
	sessions := []*Session{mustSession(t, services[0], race.ID), mustSession(t, services[1], race.ID)}
	ctx := context.Background()

	var mu sync.Mutex
	got := make([]int, 0, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		sess := sessions[i%len(sessions)]
		g.Go(func() error {
			fr, err := sess.RecordFinish(gctx, id, 1)
			if err != nil {
				return err
			}
			mu.Lock()
			got = append(got, fr.Position)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent record: %v", err)
	}
	sort.Ints(got)
	for i, p := range got {
		if p != i+1 {
			t.Fatalf("positions across handles not gap-free: %v", got)
		}
	}
	for _, sess := range sessions {
		if err := sess.Refresh(ctx); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if lane := sess.FinishOrder(1); len(lane) != len(ids) {
			t.Fatalf("each handle should see all %d finishes, got %d", len(ids), len(lane))
		}
	}
}

func TestUndoOnOneHandleSeesFinishesFromAnother(t *testing.T) {
	services := openSharedSQLite(t, 2)
	seedRunners(t, services[0], 2)
	race := mustCreateRace(t, services[0], 1)
	a := mustSession(t, services[0], race.ID)
	b := mustSession(t, services[1], race.ID)
	ctx := context.Background()

	if _, err := a.RecordFinish(ctx, "R01", 1); err != nil {
		t.Fatalf("record R01: %v", err)
	}
	if _, err := b.RecordFinish(ctx, "R02", 1); err != nil {
		t.Fatalf("record R02: %v", err)
	}
	rec, err := a.UndoLastFinish(ctx, 1)
	if err != nil || rec.RunnerID != "R02" || rec.Position != 2 {
		t.Fatalf("undo should remove the other handle's tail, got %+v %v", rec, err)
	}
	if got := positions(a.FinishOrder(1)); len(got) != 1 || got[0] != 1 {
		t.Fatalf("unexpected lane after undo: %v", got)
	}
}
