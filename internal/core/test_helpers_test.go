package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"racecore/pkg/domain"
)

// stepClock advances one second on every read so finish times are ordered.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type logRecord struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.records = append(l.records, logRecord{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.level == level && r.msg == msg {
			return true
		}
	}
	return false
}

// newTestService returns an in-memory service with the default rules and a
// stepping clock.
func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithClock(newStepClock())}, opts...)
	return NewInMemoryService(nil, opts...)
}

func mustAddRunner(t *testing.T, svc *Service, id, name, house string) domain.Runner {
	t.Helper()
	r, err := svc.AddRunner(context.Background(), domain.Runner{Base: domain.Base{ID: id}, Name: name, House: house, AgeGroup: "U12"})
	if err != nil {
		t.Fatalf("add runner %s: %v", id, err)
	}
	return r
}

func mustCreateRace(t *testing.T, svc *Service, lanes int) domain.Race {
	t.Helper()
	race, err := svc.CreateRace(context.Background(), RaceInput{Name: "100m Sprint", Date: "2024-05-01", FinishLineCount: lanes})
	if err != nil {
		t.Fatalf("create race: %v", err)
	}
	return race
}

func mustSession(t *testing.T, svc *Service, raceID string) *Session {
	t.Helper()
	sess, err := svc.NewSession(context.Background(), raceID, domain.RunnerFilter{})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess
}

// seedRunners adds n runners named R01..Rn alternating between Green and Ross.
func seedRunners(t *testing.T, svc *Service, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		house := "Green"
		if i%2 == 0 {
			house = "Ross"
		}
		id := fmt.Sprintf("R%02d", i)
		mustAddRunner(t, svc, id, "Runner "+id, house)
		ids = append(ids, id)
	}
	return ids
}

func positions(recs []domain.FinishRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Position
	}
	return out
}
