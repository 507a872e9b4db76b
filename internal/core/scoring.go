package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"racecore/pkg/domain"
)

// scoredRanks is how many placings per lane earn points.
const scoredRanks = 10

// PointsForRank returns the points a 1-based lane rank earns: 10 for first
// down to 1 for tenth, nothing after that.
func PointsForRank(rank int) int {
	if rank < 1 || rank > scoredRanks {
		return 0
	}
	return scoredRanks + 1 - rank
}

// HouseTotal is a house's points from one calculation or from the ledger.
type HouseTotal struct {
	House  string `json:"house_name"`
	Points int    `json:"points"`
}

// rankLane orders a lane by position, then finish time, then runner id.
func rankLane(lane []domain.FinishRecord) []domain.FinishRecord {
	ranked := make([]domain.FinishRecord, 0, len(lane))
	for _, rec := range lane {
		if rec.Position > 0 {
			ranked = append(ranked, rec)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		return a.RunnerID < b.RunnerID
	})
	return ranked
}

// tallyRace scores every lane of raceID independently and sums per house.
// Houses that score nothing are absent from the result.
func tallyRace(view domain.TransactionView, raceID string) ([]HouseTotal, error) {
	if _, ok := view.FindRace(raceID); !ok {
		return nil, fmt.Errorf("%w: race %s", domain.ErrNoActiveRace, raceID)
	}
	byLane := make(map[int][]domain.FinishRecord)
	for _, rec := range view.ListFinishes(domain.FinishFilter{RaceID: raceID}) {
		byLane[rec.FinishLine] = append(byLane[rec.FinishLine], rec)
	}
	sums := make(map[string]int)
	for _, lane := range byLane {
		for i, rec := range rankLane(lane) {
			points := PointsForRank(i + 1)
			if points == 0 {
				break
			}
			runner, ok := view.FindRunner(rec.RunnerID)
			if !ok || strings.TrimSpace(runner.House) == "" {
				continue
			}
			sums[runner.House] += points
		}
	}
	return sortedTotals(sums), nil
}

func sortedTotals(sums map[string]int) []HouseTotal {
	out := make([]HouseTotal, 0, len(sums))
	for house, points := range sums {
		if points > 0 {
			out = append(out, HouseTotal{House: house, Points: points})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].House < out[j].House
	})
	return out
}

// PreviewHousePoints computes what CalculateHousePoints would award for
// raceID without writing anything.
func (s *Service) PreviewHousePoints(ctx context.Context, raceID string) ([]HouseTotal, error) {
	var totals []HouseTotal
	err := s.run(ctx, "preview_house_points", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			totals, err = tallyRace(view, raceID)
			return err
		}))
	})
	return totals, err
}

// CalculateHousePoints scores raceID and appends one ledger entry per house
// with points. It is append-only and NOT idempotent: every call adds a fresh
// set of entries, so calling it twice for the same race counts the race twice.
func (s *Service) CalculateHousePoints(ctx context.Context, raceID string) ([]HouseTotal, error) {
	var totals []HouseTotal
	err := s.run(ctx, "calculate_house_points", func(ctx context.Context) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			totals, err = tallyRace(tx.Snapshot(), raceID)
			if err != nil {
				return err
			}
			now := s.now()
			for _, t := range totals {
				race := raceID
				if _, err := tx.CreateHousePoints(domain.HousePointsEntry{House: t.House, Points: t.Points, RaceID: &race, CreatedAt: now}); err != nil {
					return err
				}
			}
			return nil
		})
		return translateStoreError(err)
	})
	if err == nil {
		s.logger.Info("house points calculated", "race_id", raceID, "houses", len(totals))
	}
	return totals, err
}

// HouseStandings sums the whole ledger per house, highest first.
func (s *Service) HouseStandings(ctx context.Context) ([]HouseTotal, error) {
	var totals []HouseTotal
	err := s.run(ctx, "house_standings", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			sums := make(map[string]int)
			for _, e := range view.ListHousePoints(domain.HousePointsFilter{}) {
				sums[e.House] += e.Points
			}
			totals = sortedTotals(sums)
			return nil
		}))
	})
	return totals, err
}

// ListHousePoints returns the raw ledger entries matching filter.
func (s *Service) ListHousePoints(ctx context.Context, filter domain.HousePointsFilter) ([]domain.HousePointsEntry, error) {
	var entries []domain.HousePointsEntry
	err := s.run(ctx, "list_house_points", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			entries = view.ListHousePoints(filter)
			return nil
		}))
	})
	return entries, err
}
