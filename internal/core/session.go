package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"racecore/pkg/domain"
)

// FinishedRunner is a runner with its finish projection for one race. The
// finish fields are zero when the runner has no recorded finish.
type FinishedRunner struct {
	domain.Runner
	FinishLine int        `json:"finish_line,omitempty"`
	Position   int        `json:"position,omitempty"`
	FinishedAt *time.Time `json:"finish_time,omitempty"`
}

// Finished reports whether the projection carries a recorded finish.
func (f FinishedRunner) Finished() bool { return f.Position > 0 }

// Session is one timekeeper's view of a race: the roster it scans against and
// a per-lane cache of the finish order. The store stays authoritative; every
// write replaces the affected lane with the list read in the same
// transaction. Sessions are safe for concurrent use, and work on different
// lanes never waits on the session's lane locks.
type Session struct {
	svc    *Service
	race   domain.Race
	filter domain.RunnerFilter

	mu      sync.RWMutex
	roster  map[string]domain.Runner
	lanes   map[int][]domain.FinishRecord
	laneMus map[int]*sync.Mutex

	refresh singleflight.Group
}

// NewSession opens a session on raceID with a roster loaded through filter.
func (s *Service) NewSession(ctx context.Context, raceID string, filter domain.RunnerFilter) (*Session, error) {
	var sess *Session
	err := s.run(ctx, "open_session", func(ctx context.Context) error {
		if strings.TrimSpace(raceID) == "" {
			return fmt.Errorf("%w: no race selected", domain.ErrNoActiveRace)
		}
		var race domain.Race
		err := s.store.View(ctx, func(view domain.TransactionView) error {
			var ok bool
			race, ok = view.FindRace(raceID)
			if !ok {
				return fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, raceID)
			}
			return nil
		})
		if err != nil {
			return translateStoreError(err)
		}
		sess = &Session{
			svc:     s,
			race:    race,
			filter:  filter,
			laneMus: make(map[int]*sync.Mutex, race.Lanes()),
		}
		for line := 1; line <= race.Lanes(); line++ {
			sess.laneMus[line] = &sync.Mutex{}
		}
		return sess.reload(ctx)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Race returns the race handle the session was opened on.
func (s *Session) Race() domain.Race { return s.race }

// Refresh rebuilds the roster and every lane cache from the store. Concurrent
// callers share a single reload.
func (s *Session) Refresh(ctx context.Context) error {
	return s.svc.run(ctx, "refresh_session", func(ctx context.Context) error {
		_, err, _ := s.refresh.Do(s.race.ID, func() (any, error) {
			return nil, s.reload(ctx)
		})
		return err
	})
}

// reload holds every lane lock in ascending order so no write interleaves
// with the rebuild.
func (s *Session) reload(ctx context.Context) error {
	for line := 1; line <= s.race.Lanes(); line++ {
		mu := s.laneMus[line]
		mu.Lock()
		defer mu.Unlock()
	}
	var runners []domain.Runner
	lanes := make(map[int][]domain.FinishRecord, s.race.Lanes())
	err := s.svc.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindRace(s.race.ID); !ok {
			return fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, s.race.ID)
		}
		runners = view.ListRunners(s.filter)
		for _, rec := range view.ListFinishes(domain.FinishFilter{RaceID: s.race.ID}) {
			lanes[rec.FinishLine] = append(lanes[rec.FinishLine], rec)
		}
		return nil
	})
	if err != nil {
		return translateStoreError(err)
	}
	roster := make(map[string]domain.Runner, len(runners))
	for _, r := range runners {
		roster[r.ID] = r
	}
	s.mu.Lock()
	s.roster = roster
	s.lanes = lanes
	s.mu.Unlock()
	return nil
}

func (s *Session) laneLock(line int) (*sync.Mutex, error) {
	mu, ok := s.laneMus[line]
	if !ok {
		return nil, domain.Validationf("finish line %d out of range 1..%d", line, s.race.Lanes())
	}
	return mu, nil
}

func (s *Session) setLane(line int, lane []domain.FinishRecord) {
	s.mu.Lock()
	s.lanes[line] = lane
	s.mu.Unlock()
}

// RecordFinish records runnerID crossing finish line `line`. The position is
// assigned by the store inside the write transaction, so concurrent sessions
// on the same lane always produce 1..N without gaps or repeats.
func (s *Session) RecordFinish(ctx context.Context, runnerID string, line int) (FinishedRunner, error) {
	var out FinishedRunner
	err := s.svc.run(ctx, "record_finish", func(ctx context.Context) error {
		runnerID = strings.TrimSpace(runnerID)
		s.mu.RLock()
		runner, ok := s.roster[runnerID]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrRunnerNotFound, runnerID)
		}
		mu, err := s.laneLock(line)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()

		var rec domain.FinishRecord
		var lane []domain.FinishRecord
		_, err = s.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			if prior := view.ListFinishes(domain.FinishFilter{RaceID: s.race.ID, RunnerID: runnerID}); len(prior) > 0 {
				return fmt.Errorf("%w: runner %s is position %d on line %d", domain.ErrAlreadyFinished, runnerID, prior[0].Position, prior[0].FinishLine)
			}
			var err error
			rec, err = tx.AppendFinish(domain.FinishRecord{
				RunnerID:   runnerID,
				RaceID:     s.race.ID,
				FinishLine: line,
				FinishedAt: s.svc.now(),
			})
			if err != nil {
				return err
			}
			lane = tx.Snapshot().ListFinishes(domain.FinishFilter{RaceID: s.race.ID, FinishLine: line})
			return nil
		})
		if err != nil {
			return translateStoreError(err)
		}
		s.setLane(line, lane)
		finishedAt := rec.FinishedAt
		out = FinishedRunner{Runner: runner, FinishLine: line, Position: rec.Position, FinishedAt: &finishedAt}
		return nil
	})
	if err == nil {
		s.svc.logger.Info("finish recorded", "race_id", s.race.ID, "line", line, "runner_id", out.ID, "position", out.Position)
	}
	return out, err
}

// UndoLastFinish removes the most recent finish on line and returns the
// removed record. Only the tail of a lane can be undone; other lanes are
// never touched.
func (s *Session) UndoLastFinish(ctx context.Context, line int) (domain.FinishRecord, error) {
	var removed domain.FinishRecord
	err := s.svc.run(ctx, "undo_last_finish", func(ctx context.Context) error {
		mu, err := s.laneLock(line)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()

		var lane []domain.FinishRecord
		_, err = s.svc.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current := tx.Snapshot().ListFinishes(domain.FinishFilter{RaceID: s.race.ID, FinishLine: line})
			if len(current) == 0 {
				return fmt.Errorf("%w: line %d is empty", domain.ErrNothingToUndo, line)
			}
			removed = current[len(current)-1]
			if _, err := tx.DeleteFinishes(domain.FinishFilter{RaceID: s.race.ID, FinishLine: line, RunnerID: removed.RunnerID}); err != nil {
				return err
			}
			lane = tx.Snapshot().ListFinishes(domain.FinishFilter{RaceID: s.race.ID, FinishLine: line})
			return nil
		})
		if err != nil {
			return translateStoreError(err)
		}
		s.mu.Lock()
		cached := s.lanes[line]
		if n := len(cached); n == 0 || cached[n-1].RunnerID != removed.RunnerID {
			s.svc.logger.Warn("lane cache was stale", "race_id", s.race.ID, "line", line, "undone_runner_id", removed.RunnerID)
		}
		s.lanes[line] = lane
		s.mu.Unlock()
		return nil
	})
	if err == nil {
		s.svc.logger.Info("finish undone", "race_id", s.race.ID, "line", line, "runner_id", removed.RunnerID, "position", removed.Position)
	}
	return removed, err
}

// FinishOrder returns a copy of the cached finish order for line.
func (s *Session) FinishOrder(line int) []domain.FinishRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lane := s.lanes[line]
	out := make([]domain.FinishRecord, len(lane))
	copy(out, lane)
	return out
}

// Runner returns the roster entry for id with its finish projection taken
// from the lane caches.
func (s *Session) Runner(id string) (FinishedRunner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runner, ok := s.roster[id]
	if !ok {
		return FinishedRunner{}, false
	}
	out := FinishedRunner{Runner: runner}
	for line, lane := range s.lanes {
		for _, rec := range lane {
			if rec.RunnerID == id {
				finishedAt := rec.FinishedAt
				out.FinishLine = line
				out.Position = rec.Position
				out.FinishedAt = &finishedAt
				return out, true
			}
		}
	}
	return out, true
}
