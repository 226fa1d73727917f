package futuremsg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *RecordingTransport) {
	t.Helper()
	tr := NewRecordingTransport()
	m := NewManager(tr, cfg)
	t.Cleanup(m.Stop)
	return m, tr
}

func TestManagerNotStarted(t *testing.T) {
	ctx := context.Background()
	m, tr := newTestManager(t, ManagerConfig{})

	if _, err := m.Apply(ctx, Recall{ID: "a"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	// restored state waits for Start before firing
	if _, err := m.restore(ctx, Schedule{ID: "a", FireTime: time.Now().Add(-time.Minute), Destination: "d"}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(tr.Deliveries()); n != 0 {
		t.Fatalf("delivered %d messages before Start", n)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !tr.WaitFor(1, time.Second) {
		t.Fatal("overdue message did not fire on Start")
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestManagerStopped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, ManagerConfig{})
	m.Start()
	m.Stop()
	m.Stop()

	if _, err := m.Apply(ctx, Recall{ID: "a"}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if _, err := m.Stats(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := m.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestManagerStopCancelsTimer(t *testing.T) {
	ctx := context.Background()
	m, tr := newTestManager(t, ManagerConfig{})
	m.Start()
	m.Apply(ctx, Schedule{ID: "a", FireTime: time.Now().Add(50 * time.Millisecond), Destination: "d"})
	m.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := len(tr.Deliveries()); n != 0 {
		t.Errorf("stopped manager delivered %d messages", n)
	}
}

func TestManagerState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, ManagerConfig{Capacity: 2})
	m.Start()

	base := time.Now().Add(time.Hour)
	for _, i := range []int{3, 1, 2} {
		cmd := Schedule{ID: fmt.Sprint(i), FireTime: base.Add(time.Duration(i) * time.Second), Destination: "d"}
		if _, err := m.Apply(ctx, cmd); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	m.Apply(ctx, UpdateFireTimeRelative{ID: "3", Delta: -time.Hour})

	state, err := m.CurrentState(ctx, 42)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state.Sequence != 42 {
		t.Errorf("expected sequence 42, got %d", state.Sequence)
	}
	var ids []string
	for _, msg := range state.Messages {
		ids = append(ids, msg.ID)
	}
	if fmt.Sprint(ids) != "[3 1 2]" {
		t.Errorf("expected fire order [3 1 2], got %v", ids)
	}
	if want := base.Add(3*time.Second - time.Hour); !state.Messages[0].FireTime.Equal(want) {
		t.Errorf("expected updated fire time %v, got %v", want, state.Messages[0].FireTime)
	}

	stats, _ := m.Stats(ctx)
	if stats.Pending != 3 || stats.Capacity != 4 {
		t.Errorf("expected 3 pending in capacity 4, got %+v", stats)
	}
}

func TestManagerStaleTick(t *testing.T) {
	ctx := context.Background()
	m, tr := newTestManager(t, ManagerConfig{})
	m.Start()
	m.Apply(ctx, Schedule{ID: "later", FireTime: time.Now().Add(time.Hour), Destination: "d"})

	// an extra tick with nothing due delivers nothing
	m.send(managerRequest{op: opTick})
	stats, _ := m.Stats(ctx)
	if stats.Pending != 1 || len(tr.Deliveries()) != 0 {
		t.Errorf("stale tick changed state: %+v, %d deliveries", stats, len(tr.Deliveries()))
	}
}

func TestManagerFireEpsilon(t *testing.T) {
	ctx := context.Background()
	m, tr := newTestManager(t, ManagerConfig{FireEpsilon: 200 * time.Millisecond})
	m.Start()
	now := time.Now()
	m.Apply(ctx, Schedule{ID: "a", FireTime: now.Add(50 * time.Millisecond), Destination: "d"})
	m.Apply(ctx, Schedule{ID: "b", FireTime: now.Add(150 * time.Millisecond), Destination: "d"})

	if !tr.WaitFor(2, time.Second) {
		t.Fatal("expected both messages delivered")
	}
	d := tr.Deliveries()
	if gap := d[1].At.Sub(d[0].At); gap > 40*time.Millisecond {
		t.Errorf("expected b in the same tick as a, gap %v", gap)
	}
}
