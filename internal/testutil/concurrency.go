package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"go.uber.org/atomic"
)

// ExecutionRecord holds the ordering of one fake execution. Seq values come
// from a single counter shared by starts and ends, so they totally order
// events without relying on clock resolution.
type ExecutionRecord struct {
	Start    time.Time
	End      time.Time
	StartSeq int64
	EndSeq   int64
}

// FakeExecutor is a procexec.Executor for concurrency tests. It sleeps for a
// fixed duration, records when each command ran, and tracks the peak number of
// commands running at once. Commands are keyed by their last argument.
type FakeExecutor struct {
	Sleep time.Duration
	// Fail lists keys whose execution exits non-zero.
	Fail map[string]bool
	// FailAll makes every execution exit non-zero.
	FailAll bool
	// Started, when set, receives every key as its execution begins.
	Started chan<- string

	seq     atomic.Int64
	running atomic.Int64
	peak    atomic.Int64

	mu      sync.Mutex
	records map[string]*ExecutionRecord
	order   []string
}

var _ procexec.Executor = (*FakeExecutor)(nil)

// NewFakeExecutor creates an executor that sleeps for the given duration.
func NewFakeExecutor(sleep time.Duration) *FakeExecutor {
	return &FakeExecutor{Sleep: sleep, Fail: map[string]bool{}, records: map[string]*ExecutionRecord{}}
}

// FakeCommand returns a command whose key is key.
func FakeCommand(key string) planner.Command {
	return planner.Command{Path: "fake", Args: []string{"fake", key}}
}

// Execute implements procexec.Executor.
func (f *FakeExecutor) Execute(_ context.Context, cmd planner.Command) procexec.Status {
	key := cmd.Path
	if n := len(cmd.Args); n > 0 {
		key = cmd.Args[n-1]
	}

	now := f.running.Inc()
	for {
		peak := f.peak.Load()
		if now <= peak || f.peak.CompareAndSwap(peak, now) {
			break
		}
	}

	rec := &ExecutionRecord{Start: time.Now(), StartSeq: f.seq.Inc()}
	if f.Started != nil {
		f.Started <- key
	}
	time.Sleep(f.Sleep)
	rec.EndSeq = f.seq.Inc()
	rec.End = time.Now()
	f.running.Dec()

	f.mu.Lock()
	f.records[key] = rec
	f.order = append(f.order, key)
	f.mu.Unlock()

	if f.FailAll || f.Fail[key] {
		return procexec.Status{Outcome: metrics.Outcome{ExitCode: 1, Wall: f.Sleep}}
	}
	return procexec.Status{Outcome: metrics.Outcome{
		Succeeded: true,
		Wall:      f.Sleep,
		Usage:     metrics.Usage{User: time.Millisecond, MaxRSS: 1 << 20},
	}}
}

// Peak returns the highest number of simultaneous executions observed.
func (f *FakeExecutor) Peak() int64 { return f.peak.Load() }

// Record returns the execution record for key.
func (f *FakeExecutor) Record(key string) (ExecutionRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// Executed returns the keys in completion order.
func (f *FakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}
