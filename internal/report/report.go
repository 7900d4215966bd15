// Package report writes the user-facing progress transcript of an integration:
// bracketed open/close lines for the run and each phase, and one line per
// completed invocation. Logging is separate and goes through ctxlog.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/vk/pdctl/internal/dispatch"
	"github.com/vk/pdctl/internal/metrics"
	"github.com/vk/pdctl/internal/planner"
	"github.com/vk/pdctl/internal/procexec"
	"github.com/vk/pdctl/internal/project"
)

// FailureTail bounds how many trailing output lines of a failed invocation
// are echoed.
const FailureTail = 20

// Emitter serialises transcript lines onto a writer. It implements
// phase.Observer and supplies dispatcher hooks.
type Emitter struct {
	// Channel names the transcript, "integrate" for a full run.
	Channel string
	// Verbose echoes invocation starts and successful invocations as well as
	// failed ones.
	Verbose bool
	// Host names the machine in the opening line.
	Host string

	mu    sync.Mutex
	w     io.Writer
	clock clock.Clock
}

// New creates an emitter writing to w.
func New(w io.Writer, clk clock.Clock) *Emitter {
	if clk == nil {
		clk = clock.New()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &Emitter{Channel: "integrate", Verbose: true, Host: host, w: w, clock: clk}
}

func (e *Emitter) printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, format, args...)
}

func (e *Emitter) timestamp() string {
	return e.clock.Now().UTC().Format(time.RFC3339)
}

// Open writes the run opening line.
func (e *Emitter) Open(root, intention string) {
	e.printf("[-> Product Integration (%s) of %q on %s at %s (%s)]\n",
		intention, root, e.Host, e.timestamp(), e.Channel)
}

// Close writes the run closing line.
func (e *Emitter) Close(s metrics.Summary) {
	e.printf("[<- %s %s (%s)]\n", Synopsis(s.Totals()), e.timestamp(), e.Channel)
}

// Notice writes a free-form informational line.
func (e *Emitter) Notice(format string, args ...any) {
	e.printf("[!# NOTICE: %s]\n", fmt.Sprintf(format, args...))
}

// PhaseOpened implements phase.Observer.
func (e *Emitter) PhaseOpened(phase planner.Phase, title string) {
	e.printf("[-> %s (%s/%s)]\n", title, e.Channel, phase)
}

// PhaseClosed implements phase.Observer.
func (e *Emitter) PhaseClosed(phase planner.Phase, p metrics.Profile) {
	e.printf("[<- %s (%s/%s)]\n", Synopsis(p), e.Channel, phase)
}

// Hooks returns dispatcher hooks that report invocations as they start and
// finish. Invocations that could not be started at all trap the phase.
func (e *Emitter) Hooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnStart: func(inv planner.Invocation, lanes dispatch.Occupancy) {
			if !e.Verbose {
				return
			}
			e.printf("[-> %s %s lanes=%d/%d]\n", inv.Namespace, inv.Identifier, lanes.Busy, lanes.Total)
		},
		OnFailure: func(inv planner.Invocation, st procexec.Status) bool {
			e.failure(inv, st)
			return st.Err != nil && st.ExitCode == procexec.ExitNotStarted
		},
		OnComplete: func(inv planner.Invocation, st procexec.Status) {
			if st.Succeeded && !e.Verbose {
				return
			}
			e.printf("%s\n", InvocationLine(inv, st))
		},
		OnPlanFailure: func(id project.ID, err error) {
			e.printf("[<- FAIL %s plan: %v]\n", id, err)
		},
		OnSkip: func(failed project.ID, skipped []project.ID) {
			names := make([]string, len(skipped))
			for i, id := range skipped {
				names[i] = string(id)
			}
			e.printf("[!# SKIP %s (required %s failed)]\n", strings.Join(names, " "), failed)
		},
	}
}

func (e *Emitter) failure(inv planner.Invocation, st procexec.Status) {
	lines := tail(st.Output, FailureTail)
	if len(lines) == 0 {
		return
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "  %s| %s\n", inv.Identifier, l)
	}
	e.printf("%s", b.String())
}

// InvocationLine formats the completion line of one invocation.
func InvocationLine(inv planner.Invocation, st procexec.Status) string {
	status := "OK"
	if !st.Succeeded {
		status = "FAIL"
	}
	parts := []string{
		status,
		inv.Namespace,
		inv.Identifier,
		formatDuration(st.Wall),
	}
	if !st.Succeeded {
		parts = append(parts, fmt.Sprintf("exit=%d", st.ExitCode))
	}
	if cpu := st.Usage.CPU(); cpu > 0 {
		parts = append(parts, "cpu="+formatDuration(cpu))
	}
	if st.Usage.MaxRSS > 0 {
		parts = append(parts, "rss="+humanize.IBytes(uint64(st.Usage.MaxRSS)))
	}
	if st.Err != nil {
		parts = append(parts, fmt.Sprintf("error=%q", st.Err.Error()))
	}
	return "[<- " + strings.Join(parts, " ") + "]"
}

// Synopsis summarises a profile in one phrase.
func Synopsis(p metrics.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s attempted, %s passed, %s failed",
		humanize.Comma(int64(p.Attempted)),
		humanize.Comma(int64(p.Succeeded)),
		humanize.Comma(int64(p.Failed)),
	)
	if p.Skipped > 0 {
		fmt.Fprintf(&b, ", %s skipped", humanize.Comma(int64(p.Skipped)))
	}
	if p.Trapped {
		b.WriteString(", trapped")
	}
	fmt.Fprintf(&b, " in %s", formatDuration(p.Elapsed))
	if cpu := p.Usage.CPU(); cpu > 0 {
		fmt.Fprintf(&b, ", cpu %s", formatDuration(cpu))
	}
	if p.Usage.MaxRSS > 0 {
		fmt.Fprintf(&b, ", peak rss %s", humanize.IBytes(uint64(p.Usage.MaxRSS)))
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	default:
		return d.String()
	}
}

func tail(out []byte, n int) []string {
	out = bytes.TrimRight(out, "\n")
	if len(out) == 0 {
		return nil
	}
	lines := strings.Split(string(out), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
