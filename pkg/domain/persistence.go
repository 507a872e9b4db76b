package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateRunner(Runner) (Runner, error)
	UpdateRunner(id string, mutator func(*Runner) error) (Runner, error)
	CreateRace(Race) (Race, error)
	UpdateRace(id string, mutator func(*Race) error) (Race, error)
	// AppendFinish stores rec at the next position of its (race, line) lane.
	// The caller-supplied Position is ignored; the store assigns count+1 so the
	// lane stays gap-free no matter how many writers share the store. A second
	// record for the same runner in the same race fails with ErrConflict.
	AppendFinish(rec FinishRecord) (FinishRecord, error)
	// DeleteFinishes removes records matching filter and returns how many were removed.
	DeleteFinishes(filter FinishFilter) (int, error)
	CreateHousePoints(HousePointsEntry) (HousePointsEntry, error)
	// DeleteHousePoints removes ledger entries matching filter and returns the count.
	DeleteHousePoints(filter HousePointsFilter) (int, error)
	CreateAuditEntry(AuditEntry) (AuditEntry, error)
	FindRunner(id string) (Runner, bool)
	FindRace(id string) (Race, bool)
}

// TransactionView provides read-only access to snapshot data for rules and queries.
type TransactionView interface {
	ListRunners(filter RunnerFilter) []Runner
	FindRunner(id string) (Runner, bool)
	ListRaces() []Race
	FindRace(id string) (Race, bool)
	// ListFinishes returns matching records ordered by race, line, then position.
	ListFinishes(filter FinishFilter) []FinishRecord
	ListHousePoints(filter HousePointsFilter) []HousePointsEntry
	ListAuditEntries() []AuditEntry
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
