package core

import (
	"context"
	"strings"

	"racecore/pkg/domain"
)

// RunnerCorrection patches the mutable roster fields. Nil fields are left as is.
type RunnerCorrection struct {
	House    *string
	AgeGroup *string
	Grade    *string
}

// LoadRunners returns the roster entries matching filter ordered by name.
func (s *Service) LoadRunners(ctx context.Context, filter domain.RunnerFilter) ([]domain.Runner, error) {
	var runners []domain.Runner
	err := s.run(ctx, "load_runners", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			runners = view.ListRunners(filter)
			return nil
		}))
	})
	return runners, err
}

// AddRunner validates and stores a new roster entry. The runner ID is the
// scanned identity and must be unique.
func (s *Service) AddRunner(ctx context.Context, runner domain.Runner) (domain.Runner, error) {
	var created domain.Runner
	err := s.run(ctx, "add_runner", func(ctx context.Context) error {
		runner.ID = strings.TrimSpace(runner.ID)
		runner.Name = strings.TrimSpace(runner.Name)
		runner.House = strings.TrimSpace(runner.House)
		runner.AgeGroup = strings.TrimSpace(runner.AgeGroup)
		runner.Grade = strings.TrimSpace(runner.Grade)
		if err := validateRunner(runner); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateRunner(runner)
			return err
		})
		return translateStoreError(err)
	})
	return created, err
}

func validateRunner(r domain.Runner) error {
	switch {
	case r.ID == "":
		return domain.Validationf("runner identity is required")
	case r.Name == "":
		return domain.Validationf("runner %s: name is required", r.ID)
	case r.House == "":
		return domain.Validationf("runner %s: house is required", r.ID)
	case r.AgeGroup == "":
		return domain.Validationf("runner %s: age group is required", r.ID)
	}
	return nil
}

// CorrectRunner applies a roster correction. Identity and name never change.
func (s *Service) CorrectRunner(ctx context.Context, id string, fix RunnerCorrection) (domain.Runner, error) {
	var updated domain.Runner
	err := s.run(ctx, "correct_runner", func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateRunner(id, func(r *domain.Runner) error {
				if fix.House != nil {
					r.House = strings.TrimSpace(*fix.House)
				}
				if fix.AgeGroup != nil {
					r.AgeGroup = strings.TrimSpace(*fix.AgeGroup)
				}
				if fix.Grade != nil {
					r.Grade = strings.TrimSpace(*fix.Grade)
				}
				return validateRunner(*r)
			})
			return err
		})
		return translateStoreError(err)
	})
	return updated, err
}
