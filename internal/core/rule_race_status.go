package core

import (
	"context"
	"fmt"

	"racecore/pkg/domain"
)

// RaceStatusTransitionRule blocks race status changes the lifecycle does not
// allow: new races must start pending and updates may only move
// pending->active->completed.
func RaceStatusTransitionRule() domain.Rule {
	return raceStatusTransitionRule{}
}

type raceStatusTransitionRule struct{}

func (raceStatusTransitionRule) Name() string { return RuleRaceStatusTransition }

func (raceStatusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRace {
			continue
		}
		after, ok := change.After.(domain.Race)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, raceViolation(after.ID, fmt.Sprintf("race %s is set to invalid status %q", after.ID, after.Status)))
			continue
		}
		switch change.Action {
		case domain.ActionCreate:
			if after.Status != domain.RaceStatusPending {
				res.Violations = append(res.Violations, raceViolation(after.ID, fmt.Sprintf("race %s must be created pending, got %s", after.ID, after.Status)))
			}
		case domain.ActionUpdate:
			before, ok := change.Before.(domain.Race)
			if !ok || before.Status == after.Status {
				continue
			}
			if !before.Status.CanTransitionTo(after.Status) {
				res.Violations = append(res.Violations, raceViolation(after.ID, fmt.Sprintf("cannot move race %s from %s to %s", after.ID, before.Status, after.Status)))
			}
		}
	}
	return res, nil
}

func raceViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     RuleRaceStatusTransition,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityRace,
		EntityID: id,
	}
}
