package core

import (
	"context"
	"fmt"

	"racecore/pkg/domain"
)

// FinishIntegrityRule re-checks every lane touched by a transaction: positions
// must run 1..n without gaps or repeats, and no runner may hold more than one
// finish in a race. Deleting anything but the tail of a lane therefore fails.
func FinishIntegrityRule() domain.Rule {
	return finishIntegrityRule{}
}

type finishIntegrityRule struct{}

type laneKey struct {
	raceID string
	line   int
}

func (finishIntegrityRule) Name() string { return RuleFinishIntegrity }

func (finishIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	lanes := make(map[laneKey]struct{})
	races := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityFinish {
			continue
		}
		for _, payload := range []any{change.Before, change.After} {
			if rec, ok := payload.(domain.FinishRecord); ok {
				lanes[laneKey{raceID: rec.RaceID, line: rec.FinishLine}] = struct{}{}
				races[rec.RaceID] = struct{}{}
			}
		}
	}

	for key := range lanes {
		lane := view.ListFinishes(domain.FinishFilter{RaceID: key.raceID, FinishLine: key.line})
		for i, rec := range lane {
			if rec.Position != i+1 {
				res.Violations = append(res.Violations, finishViolation(rec.ID,
					fmt.Sprintf("race %s line %d: expected position %d, found %d for runner %s", key.raceID, key.line, i+1, rec.Position, rec.RunnerID)))
				break
			}
		}
	}

	for raceID := range races {
		seen := make(map[string]struct{})
		for _, rec := range view.ListFinishes(domain.FinishFilter{RaceID: raceID}) {
			if _, dup := seen[rec.RunnerID]; dup {
				res.Violations = append(res.Violations, finishViolation(rec.ID,
					fmt.Sprintf("runner %s finished race %s more than once", rec.RunnerID, raceID)))
				continue
			}
			seen[rec.RunnerID] = struct{}{}
		}
	}
	return res, nil
}

func finishViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     RuleFinishIntegrity,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityFinish,
		EntityID: id,
	}
}
