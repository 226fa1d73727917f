// Package futuremsg schedules messages for delivery at a future time and
// survives restarts.
//
// Scheduling decisions are event-sourced: every command (Schedule, Recall,
// UpdateFireTimeAbsolute, UpdateFireTimeRelative) is appended to a journal
// before it changes the in-memory queue, and the queue is periodically
// dumped to a snapshot store. On Start the scheduler loads the newest
// snapshot and replays the journal records after it, so the pending set is
// exactly what it was before the process stopped. Messages whose fire time
// passed while the process was down fire immediately after recovery.
//
// # Overview
//
// The package provides:
//   - Scheduler: validates commands, journals them and applies them
//   - Manager: owns the time-ordered queue and the single wake-up timer
//   - SnapshotStrategy: decides when to snapshot (EveryN, Never)
//   - AckStrategy: reacts to applied commands (PassthroughAck, NoopAck)
//   - Settings: YAML configuration using the classic key names
//
// Storage and delivery are pluggable through the journal, snapshot and
// transport packages.
//
// # Basic Usage
//
//	j, _ := journal.OpenBadger("/var/lib/futuremsg", "billing")
//	store, _ := snapshot.NewBadger(j.DB(), "billing")
//
//	s, err := futuremsg.New("billing",
//	    futuremsg.WithJournal(j),
//	    futuremsg.WithSnapshotStore(store),
//	    futuremsg.WithTransport(tr),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop(ctx)
//
//	id, err := s.ScheduleAfter(ctx, "invoices.remind", payload, nil, 24*time.Hour)
//	...
//	err = s.Postpone(ctx, id, time.Hour)
//	err = s.Recall(ctx, id)
//
// # Delivery
//
// Delivery is fire-and-forget. A fired message is handed to the transport
// once and is not journaled; a transport error is logged, counted and passed
// to the error handler. A message that was due shortly before a crash may be
// delivered again after recovery.
//
// Two packages cover those gaps:
//
//	dedup := idempotency.NewRedisStore(rdb, 24*time.Hour)
//	dead := dlq.NewManager(dlq.NewMemoryStore(), tr)
//
//	s, err := futuremsg.New("billing",
//	    futuremsg.WithTransport(idempotency.NewTransport(tr, dedup)),
//	    futuremsg.WithErrorHandler(dead.Handler(nil)),
//	)
//
// # Concurrency
//
// The Scheduler and the Manager each run one goroutine reading an unbounded
// FIFO mailbox. Commands from one goroutine are applied in the order they
// were submitted. While a snapshot is being taken, new commands wait in
// arrival order and are processed once the state dump is saved.
package futuremsg
