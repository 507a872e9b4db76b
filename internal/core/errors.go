package core

import (
	"errors"
	"fmt"

	"racecore/pkg/domain"
)

// translateStoreError maps store-level failures onto the domain error
// taxonomy. Errors that already carry a domain kind pass through unchanged;
// anything unrecognised, context cancellation included, is a store failure.
func translateStoreError(err error) error {
	if err == nil || domain.KindOf(err) != "" {
		return err
	}
	var nf domain.ErrNotFound
	if errors.As(err, &nf) {
		switch nf.Entity {
		case domain.EntityRunner:
			return fmt.Errorf("%w: %s", domain.ErrRunnerNotFound, nf.ID)
		case domain.EntityRace:
			return fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, nf.ID)
		}
	}
	var conflict domain.ErrConflict
	if errors.As(err, &conflict) {
		switch conflict.Entity {
		case domain.EntityRunner:
			return fmt.Errorf("%w: runner %s", domain.ErrDuplicateIdentity, conflict.Key)
		case domain.EntityFinish:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyFinished, conflict.Key)
		}
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		if violation.Blocks(RuleRaceStatusTransition) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, violationMessage(violation, RuleRaceStatusTransition))
		}
		// Other blocking rules only fire on direct store misuse.
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func violationMessage(err domain.RuleViolationError, rule string) string {
	for _, v := range err.Result.Violations {
		if v.Rule == rule && v.Severity == domain.SeverityBlock {
			return v.Message
		}
	}
	return rule
}
