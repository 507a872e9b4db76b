package core

import (
	"context"
	"errors"
	"testing"

	"racecore/pkg/domain"
)

func TestAddRunnerValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		runner domain.Runner
	}{
		{"missing id", domain.Runner{Name: "A", House: "Green", AgeGroup: "U12"}},
		{"missing name", domain.Runner{Base: domain.Base{ID: "1"}, House: "Green", AgeGroup: "U12"}},
		{"missing house", domain.Runner{Base: domain.Base{ID: "1"}, Name: "A", AgeGroup: "U12"}},
		{"missing age group", domain.Runner{Base: domain.Base{ID: "1"}, Name: "A", House: "Green"}},
		{"blank name", domain.Runner{Base: domain.Base{ID: "1"}, Name: "   ", House: "Green", AgeGroup: "U12"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddRunner(ctx, tc.runner)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if domain.KindOf(err) != domain.KindValidation {
				t.Fatalf("expected validation kind, got %q", domain.KindOf(err))
			}
		})
	}
}

func TestAddRunnerDuplicateIdentity(t *testing.T) {
	svc := newTestService(t)
	mustAddRunner(t, svc, "A", "Alice", "Green")
	_, err := svc.AddRunner(context.Background(), domain.Runner{Base: domain.Base{ID: " A "}, Name: "Other", House: "Ross", AgeGroup: "U12"})
	if !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected duplicate identity, got %v", err)
	}
}

func TestLoadRunnersFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	mustAddRunner(t, svc, "B", "Bob", "Ross")
	mustAddRunner(t, svc, "A", "Alice", "Green")
	if _, err := svc.AddRunner(ctx, domain.Runner{Base: domain.Base{ID: "C"}, Name: "Cara", House: "Green", AgeGroup: "U14", Grade: "7"}); err != nil {
		t.Fatalf("add runner: %v", err)
	}

	all, err := svc.LoadRunners(ctx, domain.RunnerFilter{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Alice" || all[2].Name != "Cara" {
		t.Fatalf("expected runners sorted by name, got %+v", all)
	}
	green, _ := svc.LoadRunners(ctx, domain.RunnerFilter{House: "green"})
	if len(green) != 2 {
		t.Fatalf("expected 2 green runners, got %d", len(green))
	}
	u14, _ := svc.LoadRunners(ctx, domain.RunnerFilter{AgeGroup: "U14", Grade: "7"})
	if len(u14) != 1 || u14[0].ID != "C" {
		t.Fatalf("expected only C, got %+v", u14)
	}
}

func TestCorrectRunner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	mustAddRunner(t, svc, "A", "Alice", "Green")
	ross := "Ross"
	updated, err := svc.CorrectRunner(ctx, "A", RunnerCorrection{House: &ross})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if updated.House != "Ross" || updated.Name != "Alice" || updated.AgeGroup != "U12" {
		t.Fatalf("unexpected runner %+v", updated)
	}
	blank := " "
	if _, err := svc.CorrectRunner(ctx, "A", RunnerCorrection{House: &blank}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank house, got %v", err)
	}
	if _, err := svc.CorrectRunner(ctx, "missing", RunnerCorrection{House: &ross}); !errors.Is(err, domain.ErrRunnerNotFound) {
		t.Fatalf("expected runner not found, got %v", err)
	}
}

func TestCreateRaceValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, in := range []RaceInput{
		{Date: "2024-05-01"},
		{Name: "Relay"},
		{Name: "Relay", Date: "2024-05-01", FinishLineCount: -1},
	} {
		if _, err := svc.CreateRace(ctx, in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
	race, err := svc.CreateRace(ctx, RaceInput{Name: "Relay", Date: "2024-05-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if race.Status != domain.RaceStatusPending || race.FinishLineCount != 1 || race.ID == "" {
		t.Fatalf("unexpected race %+v", race)
	}
}

func TestUpdateStatusLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	race := mustCreateRace(t, svc, 1)

	active, err := svc.UpdateStatus(ctx, race.ID, domain.RaceStatusActive)
	if err != nil || active.Status != domain.RaceStatusActive {
		t.Fatalf("activate: %v %+v", err, active)
	}
	if _, err := svc.UpdateStatus(ctx, race.ID, domain.RaceStatusPending); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition active->pending, got %v", err)
	}
	done, err := svc.UpdateStatus(ctx, race.ID, domain.RaceStatusCompleted)
	if err != nil || done.Status != domain.RaceStatusCompleted {
		t.Fatalf("complete: %v %+v", err, done)
	}
	for _, next := range []domain.RaceStatus{domain.RaceStatusPending, domain.RaceStatusActive, domain.RaceStatusCompleted} {
		if _, err := svc.UpdateStatus(ctx, race.ID, next); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected completed to be terminal (->%s), got %v", next, err)
		}
	}
}

func TestCrossCountryFinalsCannotSkipActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	race, err := svc.CreateRace(ctx, RaceInput{Name: "Cross Country Finals", Date: "2024-05-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.UpdateStatus(ctx, race.ID, domain.RaceStatusCompleted)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict kind, got %q", domain.KindOf(err))
	}
	got, err := svc.GetRace(ctx, race.ID)
	if err != nil {
		t.Fatalf("get race: %v", err)
	}
	if got.Status != domain.RaceStatusPending {
		t.Fatalf("expected race to remain pending, got %s", got.Status)
	}
}

func TestUpdateStatusRequiresRace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.UpdateStatus(ctx, "", domain.RaceStatusActive); !errors.Is(err, domain.ErrNoActiveRace) {
		t.Fatalf("expected no active race for empty id, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "missing", domain.RaceStatusActive); !errors.Is(err, domain.ErrNoActiveRace) {
		t.Fatalf("expected no active race for unknown id, got %v", err)
	}
	race := mustCreateRace(t, svc, 1)
	if _, err := svc.UpdateStatus(ctx, race.ID, "finished"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestListRaces(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateRace(ctx, RaceInput{Name: "Later", Date: "2024-06-01"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateRace(ctx, RaceInput{Name: "Earlier", Date: "2024-05-01"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	races, err := svc.ListRaces(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(races) != 2 || races[0].Name != "Earlier" {
		t.Fatalf("expected races ordered by date, got %+v", races)
	}
	if _, err := svc.GetRace(ctx, "missing"); !errors.Is(err, domain.ErrNoActiveRace) {
		t.Fatalf("expected no active race, got %v", err)
	}
}
