package futuremsg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/futuremsg/codec"
	"github.com/rbaliyan/futuremsg/journal"
	"github.com/rbaliyan/futuremsg/snapshot"
	"syreclabs.com/go/faker"
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *RecordingTransport) {
	t.Helper()
	tr := NewRecordingTransport()
	s, err := New("test", append([]Option{WithTransport(tr)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, tr
}

func schedule(t *testing.T, s *Scheduler, id string, at time.Time) {
	t.Helper()
	_, err := s.Schedule(context.Background(), Schedule{
		ID:          id,
		Payload:     []byte(faker.Lorem().Sentence(3)),
		FireTime:    at,
		Destination: "dest",
	})
	if err != nil {
		t.Fatalf("Schedule(%s) failed: %v", id, err)
	}
}

type failingJournal struct {
	journal.Journal
	err error
}

func (f *failingJournal) Append(ctx context.Context, data []byte) (uint64, error) {
	return 0, f.err
}

type failingStore struct {
	snapshot.Store
	err error
}

func (f *failingStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	return f.err
}

type unknownCommand struct{}

func (unknownCommand) CommandID() string { return "x" }
func (unknownCommand) Kind() CommandKind { return "unknown" }

type ackEvent struct {
	ID        string
	Failed    bool
	Replaying bool
}

type recordingAck struct {
	mu     sync.Mutex
	events []ackEvent
}

func (r *recordingAck) OnAcknowledge(_ context.Context, ack Ack, _ Command, _ Caller, replaying bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ackEvent{ID: ack.ID, Replaying: replaying})
}

func (r *recordingAck) OnAcknowledgeFailed(_ context.Context, _ error, cmd Command, _ Caller, replaying bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ackEvent{ID: cmd.CommandID(), Failed: true, Replaying: replaying})
}

func (r *recordingAck) Events() []ackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ackEvent(nil), r.events...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliveryTiming(t *testing.T) {
	s, tr := newTestScheduler(t)
	start := time.Now()
	schedule(t, s, "A", start.Add(1000*time.Millisecond))

	time.Sleep(500*time.Millisecond - time.Since(start))
	if n := len(tr.Deliveries()); n != 0 {
		t.Fatalf("expected nothing delivered at 500ms, got %d", n)
	}
	if !tr.WaitFor(1, 2*time.Second) {
		t.Fatal("A was not delivered")
	}
	elapsed := tr.Deliveries()[0].At.Sub(start)
	if elapsed < 950*time.Millisecond || elapsed > 1150*time.Millisecond {
		t.Errorf("expected delivery at ~1000ms, got %v", elapsed)
	}
}

func TestDeliveryOrder(t *testing.T) {
	t.Run("distinct fire times", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		base := time.Now().Add(200 * time.Millisecond)
		for _, i := range []int{7, 2, 9, 0, 4, 1, 8, 3, 6, 5} {
			schedule(t, s, fmt.Sprint(i), base.Add(time.Duration(i)*100*time.Millisecond))
		}
		if !tr.WaitFor(10, 2*time.Second) {
			t.Fatalf("expected 10 deliveries, got %d", len(tr.Deliveries()))
		}
		want := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
		if diff := cmp.Diff(want, tr.IDs()); diff != "" {
			t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("identical fire times", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		at := time.Now().Add(100 * time.Millisecond)
		want := []string{"c", "a", "d", "b"}
		for _, id := range want {
			schedule(t, s, id, at)
		}
		if !tr.WaitFor(4, time.Second) {
			t.Fatalf("expected 4 deliveries, got %d", len(tr.Deliveries()))
		}
		if diff := cmp.Diff(want, tr.IDs()); diff != "" {
			t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("past fire time", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		start := time.Now()
		schedule(t, s, "late", start.Add(-time.Hour))
		if !tr.WaitFor(1, time.Second) {
			t.Fatal("overdue message was not delivered")
		}
		if elapsed := tr.Deliveries()[0].At.Sub(start); elapsed > 100*time.Millisecond {
			t.Errorf("overdue message took %v", elapsed)
		}
	})
}

func TestDeliveredMessage(t *testing.T) {
	s, tr := newTestScheduler(t)
	payload := []byte(faker.Lorem().Sentence(4))
	at := time.Now().Add(20 * time.Millisecond)
	_, err := s.Schedule(context.Background(), Schedule{
		ID:          "m1",
		Payload:     payload,
		Metadata:    map[string]string{"tenant": "acme"},
		FireTime:    at,
		Destination: "invoices",
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !tr.WaitFor(1, time.Second) {
		t.Fatal("message was not delivered")
	}
	msg := tr.Deliveries()[0].Message
	if msg.Source != "test" || msg.Destination != "invoices" || string(msg.Payload) != string(payload) {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Metadata["tenant"] != "acme" || !msg.FireTime.Equal(at) {
		t.Errorf("unexpected metadata or fire time: %v %v", msg.Metadata, msg.FireTime)
	}
}

func TestScheduleGeneratesID(t *testing.T) {
	s, _ := newTestScheduler(t)
	id, err := s.ScheduleAfter(context.Background(), "dest", []byte("x"), nil, time.Hour)
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	state, err := s.Manager().CurrentState(context.Background(), 0)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if len(state.Messages) != 1 || state.Messages[0].ID != id {
		t.Errorf("expected pending %s, got %+v", id, state.Messages)
	}
}

func TestDuplicateSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	first := time.Now().Add(time.Hour)
	schedule(t, s, "dup", first)
	schedule(t, s, "dup", first.Add(time.Hour))

	state, _ := s.Manager().CurrentState(context.Background(), 0)
	if len(state.Messages) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(state.Messages))
	}
	if !state.Messages[0].FireTime.Equal(first) {
		t.Errorf("expected first registration to win, got %v", state.Messages[0].FireTime)
	}
}

func TestRecall(t *testing.T) {
	ctx := context.Background()

	t.Run("before fire", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		schedule(t, s, "keep", time.Now().Add(150*time.Millisecond))
		schedule(t, s, "drop", time.Now().Add(100*time.Millisecond))
		if err := s.Recall(ctx, "drop"); err != nil {
			t.Fatalf("Recall failed: %v", err)
		}
		if !tr.WaitFor(1, time.Second) {
			t.Fatal("keep was not delivered")
		}
		time.Sleep(100 * time.Millisecond)
		if diff := cmp.Diff([]string{"keep"}, tr.IDs()); diff != "" {
			t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("after fire", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		schedule(t, s, "gone", time.Now())
		tr.WaitFor(1, time.Second)
		if err := s.Recall(ctx, "gone"); err != nil {
			t.Errorf("expected ack for delivered id, got %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		p, err := s.Submit(ctx, Recall{ID: "nobody"})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		ack, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if diff := cmp.Diff(Ack{ID: "nobody", Kind: KindRecall}, ack); diff != "" {
			t.Errorf("ack mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUpdateFireTime(t *testing.T) {
	ctx := context.Background()

	t.Run("absolute", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		schedule(t, s, "a", time.Now().Add(time.Hour))
		schedule(t, s, "b", time.Now().Add(200*time.Millisecond))
		if err := s.Reschedule(ctx, "a", time.Now().Add(50*time.Millisecond)); err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
		if !tr.WaitFor(2, time.Second) {
			t.Fatalf("expected 2 deliveries, got %v", tr.IDs())
		}
		if diff := cmp.Diff([]string{"a", "b"}, tr.IDs()); diff != "" {
			t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("relative", func(t *testing.T) {
		s, tr := newTestScheduler(t)
		schedule(t, s, "a", time.Now().Add(100*time.Millisecond))
		schedule(t, s, "b", time.Now().Add(200*time.Millisecond))
		if err := s.Postpone(ctx, "a", 300*time.Millisecond); err != nil {
			t.Fatalf("Postpone failed: %v", err)
		}
		if !tr.WaitFor(2, 2*time.Second) {
			t.Fatalf("expected 2 deliveries, got %v", tr.IDs())
		}
		if diff := cmp.Diff([]string{"b", "a"}, tr.IDs()); diff != "" {
			t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s, _ := newTestScheduler(t)
		if err := s.Reschedule(ctx, "ghost", time.Now()); err != nil {
			t.Errorf("Reschedule of unknown id failed: %v", err)
		}
		if err := s.Postpone(ctx, "ghost", time.Minute); err != nil {
			t.Errorf("Postpone of unknown id failed: %v", err)
		}
	})
}

func TestSnapshotCadence(t *testing.T) {
	store := snapshot.NewMemory()
	s, _ := newTestScheduler(t, WithSnapshotStore(store), WithSnapshotStrategy(EveryN{N: 3}))

	for i := 0; i < 7; i++ {
		schedule(t, s, fmt.Sprint(i), time.Now().Add(time.Hour))
	}
	waitUntil(t, time.Second, func() bool { return store.Len() == 2 })

	snaps := store.All()
	if snaps[0].Sequence != 3 || snaps[1].Sequence != 6 {
		t.Fatalf("expected snapshots at 3 and 6, got %d and %d", snaps[0].Sequence, snaps[1].Sequence)
	}
	if snaps[0].Count != 3 || snaps[1].Count != 6 {
		t.Errorf("expected counts 3 and 6, got %d and %d", snaps[0].Count, snaps[1].Count)
	}
	msgs, err := DecodeMessages(s.codec, snaps[1].Data)
	if err != nil {
		t.Fatalf("DecodeMessages failed: %v", err)
	}
	if len(msgs) != 6 {
		t.Errorf("expected 6 messages in snapshot, got %d", len(msgs))
	}
}

func TestCommandsDuringSnapshotKeepOrder(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemory()
	s, _ := newTestScheduler(t, WithSnapshotStore(store), WithSnapshotStrategy(EveryN{N: 1}))

	pending := make([]*Pending, 0, 50)
	for i := 0; i < 50; i++ {
		p, err := s.Submit(ctx, Schedule{ID: fmt.Sprint(i), FireTime: time.Now().Add(time.Hour), Destination: "d"})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		pending = append(pending, p)
	}
	for i, p := range pending {
		ack, err := p.Wait(ctx)
		if err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
		if ack.ID != fmt.Sprint(i) {
			t.Fatalf("expected ack %d, got %s", i, ack.ID)
		}
	}
	waitUntil(t, time.Second, func() bool { return store.Len() == 50 })
	for i, snap := range store.All() {
		if snap.Count != i+1 {
			t.Fatalf("snapshot %d holds %d messages", snap.Sequence, snap.Count)
		}
	}
}

func TestRecovery(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		strategy SnapshotStrategy
	}{
		{"journal only", Never{}},
		{"snapshot and journal", EveryN{N: 2}},
		{"snapshot only", EveryN{N: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := journal.NewMemory()
			store := snapshot.NewMemory()
			tr := NewRecordingTransport()
			s, err := New("billing", WithJournal(j), WithSnapshotStore(store), WithTransport(tr), WithSnapshotStrategy(tc.strategy))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := s.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			base := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			for i := 1; i <= 5; i++ {
				schedule(t, s, fmt.Sprint(i), base.Add(time.Duration(i)*time.Minute))
			}
			before, _ := s.Manager().CurrentState(ctx, 0)
			s.Stop(ctx)

			restarted, err := New("billing", WithJournal(j.Reopen()), WithSnapshotStore(store.Reopen()), WithTransport(tr), WithSnapshotStrategy(tc.strategy))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := restarted.Start(ctx); err != nil {
				t.Fatalf("restart failed: %v", err)
			}
			defer restarted.Stop(ctx)

			after, _ := restarted.Manager().CurrentState(ctx, 0)
			if diff := cmp.Diff(before.Messages, after.Messages); diff != "" {
				t.Fatalf("recovered state mismatch (-want +got):\n%s", diff)
			}

			if err := restarted.Recall(ctx, "1"); err != nil {
				t.Fatalf("Recall failed: %v", err)
			}
			after, _ = restarted.Manager().CurrentState(ctx, 0)
			if diff := cmp.Diff(before.Messages[1:], after.Messages); diff != "" {
				t.Errorf("state after recall mismatch (-want +got):\n%s", diff)
			}
			if n := len(tr.Deliveries()); n != 0 {
				t.Errorf("expected no deliveries, got %d", n)
			}
		})
	}
}

func TestRecoveryDeliversAtOriginalTimes(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	s, _ := newTestScheduler(t, WithJournal(j))

	base := time.Now().Add(300 * time.Millisecond).Truncate(time.Millisecond)
	want := make(map[string]time.Time)
	for i := 1; i <= 4; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		schedule(t, s, fmt.Sprint(i), at)
		want[fmt.Sprint(i)] = at
	}
	s.Stop(ctx)

	restarted, tr := newTestScheduler(t, WithJournal(j.Reopen()))
	if err := restarted.Recall(ctx, "1"); err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if !tr.WaitFor(3, 2*time.Second) {
		t.Fatalf("expected 3 deliveries after recovery, got %d", len(tr.Deliveries()))
	}
	time.Sleep(50 * time.Millisecond)
	if diff := cmp.Diff([]string{"2", "3", "4"}, tr.IDs()); diff != "" {
		t.Fatalf("deliveries mismatch (-want +got):\n%s", diff)
	}
	for _, d := range tr.Deliveries() {
		at := want[d.Message.ID]
		if !d.Message.FireTime.Equal(at) {
			t.Errorf("%s: fire time %v, want %v", d.Message.ID, d.Message.FireTime, at)
		}
		if early := at.Sub(d.At); early > 60*time.Millisecond {
			t.Errorf("%s delivered %v early", d.Message.ID, early)
		}
		if late := d.At.Sub(at); late > 150*time.Millisecond {
			t.Errorf("%s delivered %v late", d.Message.ID, late)
		}
	}
}

func TestSnapshotPolicySeesEverySequence(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen []uint64
	record := SnapshotStrategyFunc(func(_ Command, seq uint64) bool {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, seq)
		return false
	})
	take := func() []uint64 {
		mu.Lock()
		defer mu.Unlock()
		out := seen
		seen = nil
		return out
	}

	j := journal.NewMemory()
	s, _ := newTestScheduler(t, WithJournal(j), WithSnapshotStrategy(record))
	schedule(t, s, "a", time.Now().Add(time.Hour))
	schedule(t, s, "a", time.Now().Add(time.Hour))
	if err := s.Recall(ctx, "ghost"); err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if err := s.Postpone(ctx, "a", time.Minute); err != nil {
		t.Fatalf("Postpone failed: %v", err)
	}
	s.Stop(ctx)
	live := take()

	newTestScheduler(t, WithJournal(j.Reopen()), WithSnapshotStrategy(record))
	replayed := take()

	if diff := cmp.Diff([]uint64{1, 2, 3, 4}, live); diff != "" {
		t.Errorf("live sequences mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(live, replayed); diff != "" {
		t.Errorf("replay consulted the policy differently (-live +replay):\n%s", diff)
	}
}

func TestRecoveryFiresOverdue(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	s, _ := newTestScheduler(t, WithJournal(j))
	schedule(t, s, "soon", time.Now().Add(300*time.Millisecond))
	schedule(t, s, "recalled", time.Now().Add(300*time.Millisecond))
	s.Recall(ctx, "recalled")
	s.Stop(ctx)

	time.Sleep(350 * time.Millisecond)
	restarted, tr := newTestScheduler(t, WithJournal(j.Reopen()))
	if !tr.WaitFor(1, time.Second) {
		t.Fatal("overdue message was not delivered after recovery")
	}
	time.Sleep(50 * time.Millisecond)
	if diff := cmp.Diff([]string{"soon"}, tr.IDs()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	stats, _ := restarted.Stats(ctx)
	if stats.Pending != 0 {
		t.Errorf("expected empty queue, got %d", stats.Pending)
	}
}

func TestRecoveryInconsistency(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot ahead of journal", func(t *testing.T) {
		store := snapshot.NewMemory()
		data, _ := EncodeMessages(codec.JSON{}, nil)
		store.Save(ctx, snapshot.Snapshot{Sequence: 10, AsOf: time.Now(), Data: data})
		s, err := New("x", WithSnapshotStore(store))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := s.Start(ctx); !errors.Is(err, ErrRecoveryInconsistency) {
			t.Errorf("expected ErrRecoveryInconsistency, got %v", err)
		}
		if s.Status() != StatusStopped {
			t.Errorf("expected stopped, got %s", s.Status())
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		j := journal.NewMemory()
		j.Append(ctx, []byte("{}"))
		store := snapshot.NewMemory()
		data, _ := EncodeMessages(codec.JSON{}, []ScheduledMessage{{ID: "a", FireTime: time.Now(), Destination: "d"}})
		store.Save(ctx, snapshot.Snapshot{Sequence: 1, AsOf: time.Now(), Count: 2, Data: data})
		s, _ := New("x", WithJournal(j), WithSnapshotStore(store))
		if err := s.Start(ctx); !errors.Is(err, ErrRecoveryInconsistency) {
			t.Errorf("expected ErrRecoveryInconsistency, got %v", err)
		}
	})

	t.Run("snapshot over fixed capacity", func(t *testing.T) {
		j := journal.NewMemory()
		j.Append(ctx, []byte("{}"))
		msgs := []ScheduledMessage{
			{ID: "a", FireTime: time.Now().Add(time.Hour), Destination: "d"},
			{ID: "b", FireTime: time.Now().Add(time.Hour), Destination: "d"},
			{ID: "c", FireTime: time.Now().Add(time.Hour), Destination: "d"},
		}
		store := snapshot.NewMemory()
		data, _ := EncodeMessages(codec.JSON{}, msgs)
		store.Save(ctx, snapshot.Snapshot{Sequence: 1, AsOf: time.Now(), Count: 3, Data: data})
		s, _ := New("x", WithJournal(j), WithSnapshotStore(store), WithFixedCapacity(2))
		if err := s.Start(ctx); !errors.Is(err, ErrRecoveryInconsistency) {
			t.Errorf("expected ErrRecoveryInconsistency, got %v", err)
		}
	})

	t.Run("corrupt journal record", func(t *testing.T) {
		j := journal.NewMemory()
		j.Append(ctx, []byte("not a record"))
		s, _ := New("x", WithJournal(j))
		err := s.Start(ctx)
		if !IsPersistenceFailure(err) {
			t.Errorf("expected persistence failure, got %v", err)
		}
	})
}

func TestGrowth(t *testing.T) {
	ctx := context.Background()
	settings := DefaultSettings()
	settings.DefaultQueueSize = 2
	s, tr := newTestScheduler(t, WithSettings(settings))

	for i := 0; i < 9; i++ {
		schedule(t, s, fmt.Sprint(i), time.Now().Add(300*time.Millisecond))
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 9 || stats.Capacity != 10 {
		t.Errorf("expected 9 pending in capacity 10, got %+v", stats)
	}
	if !tr.WaitFor(9, time.Second) {
		t.Errorf("expected every message delivered, got %d", len(tr.Deliveries()))
	}
}

func TestFixedCapacity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t, WithFixedCapacity(2))
	schedule(t, s, "a", time.Now().Add(time.Hour))
	schedule(t, s, "b", time.Now().Add(time.Hour))

	_, err := s.Schedule(ctx, Schedule{ID: "c", FireTime: time.Now().Add(time.Hour), Destination: "d"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := s.Recall(ctx, "a"); err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	schedule(t, s, "c", time.Now().Add(time.Hour))
}

func TestFixedCapacityRecovery(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	s, tr := newTestScheduler(t, WithJournal(j), WithFixedCapacity(2), WithSnapshotStrategy(Never{}))

	schedule(t, s, "fired", time.Now())
	if !tr.WaitFor(1, time.Second) {
		t.Fatal("fired was not delivered")
	}
	schedule(t, s, "b", time.Now().Add(time.Hour))
	schedule(t, s, "c", time.Now().Add(time.Hour))
	_, err := s.Schedule(ctx, Schedule{ID: "d", FireTime: time.Now().Add(time.Hour), Destination: "dest"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	last, _ := j.LastSequence(ctx)
	if last != 3 {
		t.Errorf("expected refused schedule to stay out of the journal, last sequence %d", last)
	}
	s.Stop(ctx)

	restarted, rtr := newTestScheduler(t, WithJournal(j.Reopen()), WithFixedCapacity(2), WithSnapshotStrategy(Never{}))
	if !rtr.WaitFor(1, time.Second) {
		t.Fatal("undelivered-at-snapshot message did not fire again")
	}
	if diff := cmp.Diff([]string{"fired"}, rtr.IDs()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	state, err := restarted.Manager().CurrentState(ctx, 0)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	var ids []string
	for _, m := range state.Messages {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"b", "c"}, ids); diff != "" {
		t.Errorf("recovered queue mismatch (-want +got):\n%s", diff)
	}
	if _, err := restarted.Schedule(ctx, Schedule{ID: "d", FireTime: time.Now().Add(time.Hour), Destination: "dest"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull after recovery, got %v", err)
	}
}

func TestFixedCapacitySkipsOversizedSnapshot(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	store := snapshot.NewMemory()
	s, tr := newTestScheduler(t, WithJournal(j), WithFixedCapacity(2), WithSnapshotStrategy(Never{}))
	schedule(t, s, "fired", time.Now())
	if !tr.WaitFor(1, time.Second) {
		t.Fatal("fired was not delivered")
	}
	schedule(t, s, "b", time.Now().Add(time.Hour))
	schedule(t, s, "c", time.Now().Add(time.Hour))
	s.Stop(ctx)

	// replay briefly holds three messages; a snapshot taken then would be
	// refused by the next recovery
	restarted, _ := newTestScheduler(t, WithJournal(j.Reopen()), WithSnapshotStore(store), WithFixedCapacity(2), WithSnapshotStrategy(EveryN{N: 3}))
	for _, snap := range store.All() {
		if snap.Count > 2 {
			t.Errorf("snapshot %d holds %d messages above capacity", snap.Sequence, snap.Count)
		}
	}
	restarted.Stop(ctx)

	again, _ := newTestScheduler(t, WithJournal(j.Reopen()), WithSnapshotStore(store.Reopen()), WithFixedCapacity(2))
	stats, err := again.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending > 2 {
		t.Errorf("expected at most 2 pending, got %d", stats.Pending)
	}
}

func TestComponentLoggers(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, _ := newTestScheduler(t, WithLogger(logger))
	schedule(t, s, "a", time.Now().Add(time.Hour))
	s.Stop(ctx)

	components := make(map[string]int)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, `"component":`); n != 1 {
			t.Fatalf("expected one component attribute, got %d in %s", n, line)
		}
		if !strings.Contains(line, `"scheduler":"test"`) {
			t.Errorf("missing scheduler name in %s", line)
		}
		for _, c := range []string{"futuremsg.scheduler", "futuremsg.manager"} {
			if strings.Contains(line, `"component":"`+c+`"`) {
				components[c]++
			}
		}
	}
	if components["futuremsg.scheduler"] == 0 || components["futuremsg.manager"] == 0 {
		t.Errorf("expected lines from both components, got %v", components)
	}
}

func TestInvalidCommand(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	tests := []struct {
		name string
		cmd  Command
	}{
		{"unknown type", unknownCommand{}},
		{"nil", nil},
		{"missing id", Recall{}},
		{"missing destination", Schedule{ID: "a", FireTime: time.Now()}},
		{"missing fire time", &Schedule{ID: "a", Destination: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Submit(ctx, tt.cmd); !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("expected ErrInvalidCommand, got %v", err)
			}
		})
	}
}

func TestPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	acks := &recordingAck{}
	s, tr := newTestScheduler(t,
		WithJournal(&failingJournal{Journal: journal.NewMemory(), err: boom}),
		WithAckStrategy(acks))

	_, err := s.Schedule(ctx, Schedule{ID: "a", FireTime: time.Now(), Destination: "d"})
	if !IsPersistenceFailure(err) || !errors.Is(err, boom) {
		t.Fatalf("expected persistence failure wrapping %v, got %v", boom, err)
	}
	if diff := cmp.Diff([]ackEvent{{ID: "a", Failed: true}}, acks.Events()); diff != "" {
		t.Errorf("ack events mismatch (-want +got):\n%s", diff)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(tr.Deliveries()); n != 0 {
		t.Errorf("unjournaled command was applied: %d deliveries", n)
	}
}

func TestSnapshotFailureDoesNotBlock(t *testing.T) {
	boom := errors.New("snapshot store down")
	errs := make(chan error, 10)
	s, _ := newTestScheduler(t,
		WithSnapshotStore(&failingStore{Store: snapshot.NewMemory(), err: boom}),
		WithSnapshotStrategy(EveryN{N: 1}),
		WithErrorHandler(func(err error) { errs <- err }))

	schedule(t, s, "a", time.Now().Add(time.Hour))
	schedule(t, s, "b", time.Now().Add(time.Hour))

	select {
	case err := <-errs:
		if !errors.Is(err, boom) || !IsPersistenceFailure(err) {
			t.Errorf("expected snapshot persistence failure, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler was not called")
	}
}

func TestDeliveryFailure(t *testing.T) {
	boom := errors.New("broker down")
	errs := make(chan error, 1)
	s, tr := newTestScheduler(t, WithErrorHandler(func(err error) { errs <- err }))
	tr.FailWith(boom)

	schedule(t, s, "a", time.Now())
	select {
	case err := <-errs:
		var de *DeliveryError
		if !errors.As(err, &de) || de.ID != "a" || !errors.Is(err, boom) {
			t.Errorf("expected delivery error for a, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler was not called")
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := New("life")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Submit(ctx, Recall{ID: "a"}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if s.Status() != StatusRunning {
		t.Errorf("expected running, got %s", s.Status())
	}
	s.Stop(ctx)
	s.Stop(ctx)
	if _, err := s.Submit(ctx, Recall{ID: "a"}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}

	if _, err := New(""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestPassthroughAck(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	type reply struct {
		from string
		cmd  Command
	}
	replies := make(chan reply, 1)
	caller := CallerFunc(func(_ context.Context, from string, cmd Command) {
		replies <- reply{from, cmd}
	})

	cmd := Recall{ID: "r1"}
	p, err := s.Submit(ctx, cmd, WithCaller(caller))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	select {
	case r := <-replies:
		if r.from != "test" {
			t.Errorf("expected reply from test, got %s", r.from)
		}
		if diff := cmp.Diff(Command(cmd), r.cmd); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("caller was not told")
	}
}

func TestReplayAcks(t *testing.T) {
	ctx := context.Background()
	j := journal.NewMemory()
	s, _ := newTestScheduler(t, WithJournal(j))
	schedule(t, s, "a", time.Now().Add(time.Hour))
	s.Recall(ctx, "a")
	s.Stop(ctx)

	acks := &recordingAck{}
	newTestScheduler(t, WithJournal(j.Reopen()), WithAckStrategy(acks))
	want := []ackEvent{{ID: "a", Replaying: true}, {ID: "a", Replaying: true}}
	if diff := cmp.Diff(want, acks.Events()); diff != "" {
		t.Errorf("replay ack mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	p := newPending()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
