package core

import (
	"context"
	"fmt"
	"strings"

	"racecore/pkg/domain"
)

// RaceInput describes a race to create. A zero FinishLineCount means one lane.
type RaceInput struct {
	Name            string
	Date            string
	Grade           string
	Distance        string
	AgeGroup        string
	FinishLineCount int
}

// CreateRace stores a new pending race. The returned race is the handle
// every later race-scoped call takes.
func (s *Service) CreateRace(ctx context.Context, in RaceInput) (domain.Race, error) {
	var created domain.Race
	err := s.run(ctx, "create_race", func(ctx context.Context) error {
		name := strings.TrimSpace(in.Name)
		date := strings.TrimSpace(in.Date)
		switch {
		case name == "":
			return domain.Validationf("race name is required")
		case date == "":
			return domain.Validationf("race %q: date is required", name)
		case in.FinishLineCount < 0:
			return domain.Validationf("race %q: finish line count %d is negative", name, in.FinishLineCount)
		}
		lanes := in.FinishLineCount
		if lanes == 0 {
			lanes = 1
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateRace(domain.Race{
				Name:            name,
				Date:            date,
				Status:          domain.RaceStatusPending,
				Grade:           strings.TrimSpace(in.Grade),
				Distance:        strings.TrimSpace(in.Distance),
				AgeGroup:        strings.TrimSpace(in.AgeGroup),
				FinishLineCount: lanes,
			})
			return err
		})
		return translateStoreError(err)
	})
	if err == nil {
		s.logger.Info("race created", "race_id", created.ID, "name", created.Name, "lanes", created.FinishLineCount)
	}
	return created, err
}

// UpdateStatus moves a race along pending->active->completed. Any other
// transition fails with ErrInvalidTransition and leaves the race untouched.
func (s *Service) UpdateStatus(ctx context.Context, raceID string, status domain.RaceStatus) (domain.Race, error) {
	var updated domain.Race
	err := s.run(ctx, "update_race_status", func(ctx context.Context) error {
		if strings.TrimSpace(raceID) == "" {
			return fmt.Errorf("%w: no race selected", domain.ErrNoActiveRace)
		}
		if !status.Valid() {
			return domain.Validationf("unknown race status %q", status)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindRace(raceID)
			if !ok {
				return fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, raceID)
			}
			if !current.Status.CanTransitionTo(status) {
				return fmt.Errorf("%w: race %s is %s, cannot become %s", domain.ErrInvalidTransition, raceID, current.Status, status)
			}
			var err error
			updated, err = tx.UpdateRace(raceID, func(r *domain.Race) error {
				r.Status = status
				return nil
			})
			return err
		})
		return translateStoreError(err)
	})
	if err == nil {
		s.logger.Info("race status changed", "race_id", updated.ID, "status", updated.Status)
	}
	return updated, err
}

// GetRace returns the race with the given id.
func (s *Service) GetRace(ctx context.Context, raceID string) (domain.Race, error) {
	var race domain.Race
	err := s.run(ctx, "get_race", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			var ok bool
			race, ok = view.FindRace(raceID)
			if !ok {
				return fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, raceID)
			}
			return nil
		}))
	})
	return race, err
}

// ListRaces returns every race ordered by date.
func (s *Service) ListRaces(ctx context.Context) ([]domain.Race, error) {
	var races []domain.Race
	err := s.run(ctx, "list_races", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			races = view.ListRaces()
			return nil
		}))
	})
	return races, err
}
