// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by racecore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRunner identifies a participant on the roster.
	EntityRunner EntityType = "runner"
	// EntityRace identifies a race record.
	EntityRace EntityType = "race"
	// EntityFinish identifies a recorded finish on a lane.
	EntityFinish EntityType = "finish_record"
	// EntityHousePoints identifies a house points ledger entry.
	EntityHousePoints EntityType = "house_points"
	// EntityAudit identifies an administrative audit entry.
	EntityAudit EntityType = "audit_entry"
)

// RaceStatus represents the race lifecycle states.
type RaceStatus string

// Race lifecycle states. Transitions only ever move forward.
const (
	RaceStatusPending   RaceStatus = "pending"
	RaceStatusActive    RaceStatus = "active"
	RaceStatusCompleted RaceStatus = "completed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RaceStatus) Valid() bool {
	switch s {
	case RaceStatusPending, RaceStatusActive, RaceStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
// Only pending->active and active->completed are legal.
func (s RaceStatus) CanTransitionTo(next RaceStatus) bool {
	switch s {
	case RaceStatusPending:
		return next == RaceStatusActive
	case RaceStatusActive:
		return next == RaceStatusCompleted
	default:
		return false
	}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runner is a participant eligible for races.
type Runner struct {
	Base
	Name        string     `json:"name"`
	House       string     `json:"house"`
	AgeGroup    string     `json:"age_group"`
	Grade       string     `json:"grade,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

// Race is a single timed event. FinishLineCount is the number of independent
// lanes scored within the race.
type Race struct {
	Base
	Name            string     `json:"name"`
	Date            string     `json:"date"`
	Status          RaceStatus `json:"status"`
	Grade           string     `json:"grade,omitempty"`
	Distance        string     `json:"distance,omitempty"`
	AgeGroup        string     `json:"age_group,omitempty"`
	FinishLineCount int        `json:"finish_line_count"`
}

// Lanes returns the effective number of finish lines, never less than one.
func (r Race) Lanes() int {
	if r.FinishLineCount < 1 {
		return 1
	}
	return r.FinishLineCount
}

// FinishRecord is one runner crossing one finish line of a race.
type FinishRecord struct {
	Base
	RunnerID   string    `json:"runner_id"`
	RaceID     string    `json:"race_id"`
	FinishLine int       `json:"finish_line"`
	FinishedAt time.Time `json:"finished_at"`
	Position   int       `json:"position"`
}

// HousePointsEntry is one additive award in the house points ledger.
type HousePointsEntry struct {
	ID        string    `json:"id,omitempty"`
	House     string    `json:"house_name"`
	Points    int       `json:"points"`
	RaceID    *string   `json:"race_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry records an administrative action against the ledger.
type AuditEntry struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// RunnerFilter narrows roster queries. Empty fields match everything.
type RunnerFilter struct {
	AgeGroup string
	Grade    string
	House    string
}

// Matches reports whether the runner satisfies every populated field.
func (f RunnerFilter) Matches(r Runner) bool {
	if f.AgeGroup != "" && !strings.EqualFold(f.AgeGroup, r.AgeGroup) {
		return false
	}
	if f.Grade != "" && !strings.EqualFold(f.Grade, r.Grade) {
		return false
	}
	if f.House != "" && !strings.EqualFold(f.House, r.House) {
		return false
	}
	return true
}

// FinishFilter narrows finish queries. Zero FinishLine matches every lane and
// an empty RunnerID matches every runner.
type FinishFilter struct {
	RaceID     string
	FinishLine int
	RunnerID   string
}

// Matches reports whether the record satisfies every populated field.
func (f FinishFilter) Matches(rec FinishRecord) bool {
	if f.RaceID != "" && rec.RaceID != f.RaceID {
		return false
	}
	if f.FinishLine != 0 && rec.FinishLine != f.FinishLine {
		return false
	}
	if f.RunnerID != "" && rec.RunnerID != f.RunnerID {
		return false
	}
	return true
}

// HousePointsFilter narrows ledger queries.
type HousePointsFilter struct {
	House  string
	RaceID string
}

// Matches reports whether the entry satisfies every populated field.
func (f HousePointsFilter) Matches(e HousePointsEntry) bool {
	if f.House != "" && !strings.EqualFold(f.House, e.House) {
		return false
	}
	if f.RaceID != "" && (e.RaceID == nil || *e.RaceID != f.RaceID) {
		return false
	}
	return true
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Blocks reports whether a blocking violation was raised by the named rule.
func (e RuleViolationError) Blocks(rule string) bool {
	for _, v := range e.Result.Violations {
		if v.Rule == rule && v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
