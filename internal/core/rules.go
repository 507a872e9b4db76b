package core

import "racecore/pkg/domain"

// Rule names registered by NewDefaultRulesEngine.
const (
	RuleRaceStatusTransition = "race_status_transition"
	RuleFinishIntegrity      = "finish_integrity"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(RaceStatusTransitionRule())
	engine.Register(FinishIntegrityRule())
	return engine
}
