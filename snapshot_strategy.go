package futuremsg

// SnapshotStrategy decides, after each applied command, whether to persist a
// snapshot at that sequence number.
type SnapshotStrategy interface {
	ShouldSnapshot(cmd Command, seq uint64) bool
}

// SnapshotStrategyFunc adapts a function to SnapshotStrategy.
type SnapshotStrategyFunc func(cmd Command, seq uint64) bool

func (f SnapshotStrategyFunc) ShouldSnapshot(cmd Command, seq uint64) bool {
	return f(cmd, seq)
}

// EveryN snapshots at every multiple of N.
type EveryN struct {
	N uint64
}

func (e EveryN) ShouldSnapshot(_ Command, seq uint64) bool {
	return e.N > 0 && seq > 0 && seq%e.N == 0
}

// Never disables snapshots.
type Never struct{}

func (Never) ShouldSnapshot(Command, uint64) bool { return false }
