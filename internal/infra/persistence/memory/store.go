// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. The sqlite and postgres
// stores embed it and snapshot its state after every commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"racecore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Runner aliases domain.Runner for in-memory persistence operations.
	Runner = domain.Runner
	// Race aliases domain.Race.
	Race = domain.Race
	// FinishRecord aliases domain.FinishRecord.
	FinishRecord = domain.FinishRecord
	// HousePointsEntry aliases domain.HousePointsEntry.
	HousePointsEntry = domain.HousePointsEntry
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	runners  map[string]Runner
	races    map[string]Race
	finishes map[string]FinishRecord
	points   map[string]HousePointsEntry
	audit    map[string]AuditEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Runners  map[string]Runner           `json:"runners"`
	Races    map[string]Race             `json:"races"`
	Finishes map[string]FinishRecord     `json:"finishes"`
	Points   map[string]HousePointsEntry `json:"house_points"`
	Audit    map[string]AuditEntry       `json:"audit"`
}

func newMemoryState() memoryState {
	return memoryState{
		runners:  make(map[string]Runner),
		races:    make(map[string]Race),
		finishes: make(map[string]FinishRecord),
		points:   make(map[string]HousePointsEntry),
		audit:    make(map[string]AuditEntry),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Runners:  cloned.runners,
		Races:    cloned.races,
		Finishes: cloned.finishes,
		Points:   cloned.points,
		Audit:    cloned.audit,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		runners:  s.Runners,
		races:    s.Races,
		finishes: s.Finishes,
		points:   s.Points,
		audit:    s.Audit,
	}
	return state.clone()
}

// migrateSnapshot normalises snapshots written by older builds: nil buckets
// become empty, races without a status are pending, and finishes whose race or
// runner no longer exists are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Runners == nil {
		snapshot.Runners = map[string]Runner{}
	}
	if snapshot.Races == nil {
		snapshot.Races = map[string]Race{}
	}
	if snapshot.Finishes == nil {
		snapshot.Finishes = map[string]FinishRecord{}
	}
	if snapshot.Points == nil {
		snapshot.Points = map[string]HousePointsEntry{}
	}
	if snapshot.Audit == nil {
		snapshot.Audit = map[string]AuditEntry{}
	}
	for id, race := range snapshot.Races {
		if !race.Status.Valid() {
			race.Status = domain.RaceStatusPending
		}
		if race.FinishLineCount < 1 {
			race.FinishLineCount = 1
		}
		snapshot.Races[id] = race
	}
	for id, rec := range snapshot.Finishes {
		if _, ok := snapshot.Races[rec.RaceID]; !ok {
			delete(snapshot.Finishes, id)
			continue
		}
		if _, ok := snapshot.Runners[rec.RunnerID]; !ok {
			delete(snapshot.Finishes, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.runners {
		cloned.runners[k] = cloneRunner(v)
	}
	for k, v := range s.races {
		cloned.races[k] = v
	}
	for k, v := range s.finishes {
		cloned.finishes[k] = v
	}
	for k, v := range s.points {
		cloned.points[k] = clonePoints(v)
	}
	for k, v := range s.audit {
		cloned.audit[k] = v
	}
	return cloned
}

func cloneRunner(r Runner) Runner {
	if r.DateOfBirth != nil {
		dob := *r.DateOfBirth
		r.DateOfBirth = &dob
	}
	return r
}

func clonePoints(e HousePointsEntry) HousePointsEntry {
	if e.RaceID != nil {
		raceID := *e.RaceID
		e.RaceID = &raceID
	}
	return e
}

// Store provides an in-memory transactional store for the core domain.
// Transactions are serialized, which is what makes lane position assignment
// atomic for every session sharing the store. With a Durable backend the
// backend's write lock extends that to every handle on the same database.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	engine  *RulesEngine
	nowFn   func() time.Time
	durable Durable
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence. On a
// durable store this is the state as of this handle's last transaction.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot. It does not
// write through to a durable backend.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the clock used to stamp created/updated times.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy only replaces committed state when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var dtx DurableTx
	if s.durable != nil {
		var err error
		if dtx, err = s.beginDurable(ctx); err != nil {
			return Result{}, err
		}
	}
	rollback := func() {
		if dtx != nil {
			_ = dtx.Rollback()
		}
	}

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		rollback()
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			rollback()
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			rollback()
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if dtx != nil {
		if err := s.commitDurable(ctx, dtx, tx.state); err != nil {
			return Result{}, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.durable != nil {
		state, err := s.loadDurable(ctx)
		if err != nil {
			return err
		}
		return fn(newTransactionView(&state))
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListRunners returns runners matching filter ordered by name then id.
func (v transactionView) ListRunners(filter domain.RunnerFilter) []Runner {
	out := make([]Runner, 0, len(v.state.runners))
	for _, r := range v.state.runners {
		if filter.Matches(r) {
			out = append(out, cloneRunner(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindRunner(id string) (Runner, bool) {
	r, ok := v.state.runners[id]
	if !ok {
		return Runner{}, false
	}
	return cloneRunner(r), true
}

// ListRaces returns races ordered by date then creation time.
func (v transactionView) ListRaces() []Race {
	out := make([]Race, 0, len(v.state.races))
	for _, r := range v.state.races {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) FindRace(id string) (Race, bool) {
	r, ok := v.state.races[id]
	return r, ok
}

func (v transactionView) ListFinishes(filter domain.FinishFilter) []FinishRecord {
	out := make([]FinishRecord, 0)
	for _, rec := range v.state.finishes {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sortFinishes(out)
	return out
}

func (v transactionView) ListHousePoints(filter domain.HousePointsFilter) []HousePointsEntry {
	out := make([]HousePointsEntry, 0, len(v.state.points))
	for _, e := range v.state.points {
		if filter.Matches(e) {
			out = append(out, clonePoints(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListAuditEntries() []AuditEntry {
	out := make([]AuditEntry, 0, len(v.state.audit))
	for _, e := range v.state.audit {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortFinishes(recs []FinishRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.RaceID != b.RaceID {
			return a.RaceID < b.RaceID
		}
		if a.FinishLine != b.FinishLine {
			return a.FinishLine < b.FinishLine
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		return a.RunnerID < b.RunnerID
	})
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindRunner(id string) (Runner, bool) {
	return newTransactionView(&tx.state).FindRunner(id)
}

func (tx *transaction) FindRace(id string) (Race, bool) {
	return newTransactionView(&tx.state).FindRace(id)
}

// CreateRunner stores a new roster entry. Runner ids are caller-assigned
// identities, so a clash is reported as a conflict rather than replaced.
func (tx *transaction) CreateRunner(r Runner) (Runner, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.runners[r.ID]; exists {
		return Runner{}, domain.ErrConflict{Entity: domain.EntityRunner, Key: r.ID}
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.runners[r.ID] = cloneRunner(r)
	tx.recordChange(Change{Entity: domain.EntityRunner, Action: domain.ActionCreate, After: cloneRunner(r)})
	return cloneRunner(r), nil
}

// UpdateRunner mutates a runner using the provided mutator function.
func (tx *transaction) UpdateRunner(id string, mutator func(*Runner) error) (Runner, error) {
	current, ok := tx.state.runners[id]
	if !ok {
		return Runner{}, domain.ErrNotFound{Entity: domain.EntityRunner, ID: id}
	}
	before := cloneRunner(current)
	if err := mutator(&current); err != nil {
		return Runner{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.runners[id] = cloneRunner(current)
	tx.recordChange(Change{Entity: domain.EntityRunner, Action: domain.ActionUpdate, Before: before, After: cloneRunner(current)})
	return cloneRunner(current), nil
}

// CreateRace stores a new race.
func (tx *transaction) CreateRace(r Race) (Race, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.races[r.ID]; exists {
		return Race{}, domain.ErrConflict{Entity: domain.EntityRace, Key: r.ID}
	}
	if r.Status == "" {
		r.Status = domain.RaceStatusPending
	}
	if r.FinishLineCount < 1 {
		r.FinishLineCount = 1
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.races[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityRace, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRace mutates an existing race.
func (tx *transaction) UpdateRace(id string, mutator func(*Race) error) (Race, error) {
	current, ok := tx.state.races[id]
	if !ok {
		return Race{}, domain.ErrNotFound{Entity: domain.EntityRace, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Race{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.races[id] = current
	tx.recordChange(Change{Entity: domain.EntityRace, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// AppendFinish assigns the next lane position and stores the record.
func (tx *transaction) AppendFinish(rec FinishRecord) (FinishRecord, error) {
	if rec.RaceID == "" {
		return FinishRecord{}, errors.New("finish record requires race id")
	}
	if rec.FinishLine < 1 {
		return FinishRecord{}, fmt.Errorf("finish line %d out of range", rec.FinishLine)
	}
	if _, ok := tx.state.races[rec.RaceID]; !ok {
		return FinishRecord{}, domain.ErrNotFound{Entity: domain.EntityRace, ID: rec.RaceID}
	}
	if _, ok := tx.state.runners[rec.RunnerID]; !ok {
		return FinishRecord{}, domain.ErrNotFound{Entity: domain.EntityRunner, ID: rec.RunnerID}
	}
	count := 0
	for _, existing := range tx.state.finishes {
		if existing.RaceID != rec.RaceID {
			continue
		}
		if existing.RunnerID == rec.RunnerID {
			return FinishRecord{}, domain.ErrConflict{Entity: domain.EntityFinish, Key: rec.RaceID + "/" + rec.RunnerID}
		}
		if existing.FinishLine == rec.FinishLine {
			count++
		}
	}
	rec.ID = tx.store.newID()
	rec.Position = count + 1
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = tx.now
	}
	rec.CreatedAt = tx.now
	rec.UpdatedAt = tx.now
	tx.state.finishes[rec.ID] = rec
	tx.recordChange(Change{Entity: domain.EntityFinish, Action: domain.ActionCreate, After: rec})
	return rec, nil
}

// DeleteFinishes removes every record matching filter.
func (tx *transaction) DeleteFinishes(filter domain.FinishFilter) (int, error) {
	if filter.RaceID == "" {
		return 0, errors.New("finish delete requires race id")
	}
	removed := 0
	for id, rec := range tx.state.finishes {
		if !filter.Matches(rec) {
			continue
		}
		delete(tx.state.finishes, id)
		tx.recordChange(Change{Entity: domain.EntityFinish, Action: domain.ActionDelete, Before: rec})
		removed++
	}
	return removed, nil
}

// CreateHousePoints appends a ledger entry.
func (tx *transaction) CreateHousePoints(e HousePointsEntry) (HousePointsEntry, error) {
	if e.House == "" {
		return HousePointsEntry{}, errors.New("house points entry requires house")
	}
	e.ID = tx.store.newID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now
	}
	tx.state.points[e.ID] = clonePoints(e)
	tx.recordChange(Change{Entity: domain.EntityHousePoints, Action: domain.ActionCreate, After: clonePoints(e)})
	return clonePoints(e), nil
}

// DeleteHousePoints removes ledger entries matching filter.
func (tx *transaction) DeleteHousePoints(filter domain.HousePointsFilter) (int, error) {
	removed := 0
	for id, e := range tx.state.points {
		if !filter.Matches(e) {
			continue
		}
		delete(tx.state.points, id)
		tx.recordChange(Change{Entity: domain.EntityHousePoints, Action: domain.ActionDelete, Before: clonePoints(e)})
		removed++
	}
	return removed, nil
}

// CreateAuditEntry appends an audit entry.
func (tx *transaction) CreateAuditEntry(e AuditEntry) (AuditEntry, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if e.At.IsZero() {
		e.At = tx.now
	}
	tx.state.audit[e.ID] = e
	tx.recordChange(Change{Entity: domain.EntityAudit, Action: domain.ActionCreate, After: e})
	return e, nil
}

// BucketNames lists the snapshot buckets in the order durable stores persist them.
var BucketNames = []string{"runners", "races", "finishes", "house_points", "audit"}

// Bucket returns a pointer to the named bucket map for JSON encoding and
// decoding, or nil for an unknown bucket.
func (s *Snapshot) Bucket(name string) any {
	switch name {
	case "runners":
		return &s.Runners
	case "races":
		return &s.Races
	case "finishes":
		return &s.Finishes
	case "house_points":
		return &s.Points
	case "audit":
		return &s.Audit
	default:
		return nil
	}
}
