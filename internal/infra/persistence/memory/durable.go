package memory

import (
	"context"
	"fmt"

	"racecore/pkg/domain"
)

// Durable is the database behind a snapshotting store. Several handles,
// possibly in different processes, may share one Durable backend.
type Durable interface {
	// Load reads the last committed state without taking the write lock.
	Load(ctx context.Context) (Snapshot, error)
	// Begin opens a write transaction holding the backend's write lock until
	// Commit or Rollback.
	Begin(ctx context.Context) (DurableTx, error)
}

// DurableTx is one locked write transaction against a Durable backend.
type DurableTx interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Commit() error
	Rollback() error
}

// NewDurableStore constructs a store whose committed state lives in backend.
// Every write transaction reloads the persisted state under the backend's
// write lock, applies fn, and adopts the result in memory only after the
// backend commit succeeds. Reads go to the backend too, so writes from other
// handles are always visible.
func NewDurableStore(engine *RulesEngine, backend Durable) *Store {
	s := NewStore(engine)
	s.durable = backend
	return s
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

// beginDurable opens the backend transaction and replaces the cached state
// with the committed one. Callers hold s.mu.
func (s *Store) beginDurable(ctx context.Context) (DurableTx, error) {
	dtx, err := s.durable.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	snapshot, err := dtx.Load(ctx)
	if err != nil {
		_ = dtx.Rollback()
		return nil, unavailable("load", err)
	}
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
	return dtx, nil
}

func (s *Store) commitDurable(ctx context.Context, dtx DurableTx, state memoryState) error {
	if err := dtx.Save(ctx, snapshotFromMemoryState(state)); err != nil {
		_ = dtx.Rollback()
		return unavailable("save", err)
	}
	if err := dtx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *Store) loadDurable(ctx context.Context) (memoryState, error) {
	snapshot, err := s.durable.Load(ctx)
	if err != nil {
		return memoryState{}, unavailable("load", err)
	}
	return memoryStateFromSnapshot(migrateSnapshot(snapshot)), nil
}
