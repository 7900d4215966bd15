// Package metrics holds the per-invocation outcomes and their phase and run
// level aggregates. Profiles are plain values: a phase returns its own and the
// orchestrator merges them explicitly.
package metrics

import (
	"time"
)

// Usage is the resource consumption of one or more processes.
type Usage struct {
	User   time.Duration // CPU time in user mode
	System time.Duration // CPU time in kernel mode
	MaxRSS int64         // peak resident set in bytes; max across merged values
}

// Add returns the combination of u and o. CPU times add; MaxRSS keeps the peak.
func (u Usage) Add(o Usage) Usage {
	out := Usage{User: u.User + o.User, System: u.System + o.System, MaxRSS: u.MaxRSS}
	if o.MaxRSS > out.MaxRSS {
		out.MaxRSS = o.MaxRSS
	}
	return out
}

// CPU is the total processor time.
func (u Usage) CPU() time.Duration { return u.User + u.System }

// Outcome is the result of one invocation.
type Outcome struct {
	Succeeded bool
	ExitCode  int
	Err       error // set when the process could not be started or waited on
	Wall      time.Duration
	Usage     Usage
}

// Profile aggregates the outcomes of one phase.
type Profile struct {
	Phase        string
	Attempted    int // invocations started plus projects whose planning failed
	Succeeded    int
	Failed       int // failed invocations plus plan failures
	PlanFailures int
	Skipped      int // projects never processed because a dependency failed
	Projects     int // projects that reached finished or skipped
	Trapped      bool
	Elapsed      time.Duration
	Usage        Usage
}

// Record folds one invocation outcome into the profile.
func (p *Profile) Record(o Outcome) {
	p.Attempted++
	if o.Succeeded {
		p.Succeeded++
	} else {
		p.Failed++
	}
	p.Usage = p.Usage.Add(o.Usage)
}

// RecordPlanFailure counts a project whose invocations could not be planned.
func (p *Profile) RecordPlanFailure() {
	p.Attempted++
	p.Failed++
	p.PlanFailures++
}

// Empty reports whether the phase did no work at all.
func (p Profile) Empty() bool {
	return p.Attempted == 0 && p.Skipped == 0 && p.Projects == 0
}

// Merge combines two profiles. Elapsed adds, which is correct for phases run
// one after another.
func (p Profile) Merge(o Profile) Profile {
	return Profile{
		Phase:        p.Phase,
		Attempted:    p.Attempted + o.Attempted,
		Succeeded:    p.Succeeded + o.Succeeded,
		Failed:       p.Failed + o.Failed,
		PlanFailures: p.PlanFailures + o.PlanFailures,
		Skipped:      p.Skipped + o.Skipped,
		Projects:     p.Projects + o.Projects,
		Trapped:      p.Trapped || o.Trapped,
		Elapsed:      p.Elapsed + o.Elapsed,
		Usage:        p.Usage.Add(o.Usage),
	}
}

// Summary is the run-level result of an integration.
type Summary struct {
	Build   Profile
	Test    Profile
	Elapsed time.Duration // wall time of the whole run
}

// Summarize merges phase profiles into a run summary. Profiles are matched to
// their slot by Phase name; anything else is folded into Test.
func Summarize(elapsed time.Duration, profiles ...Profile) Summary {
	s := Summary{Elapsed: elapsed}
	for _, p := range profiles {
		switch p.Phase {
		case "build":
			s.Build = s.Build.Merge(p)
			s.Build.Phase = "build"
		default:
			s.Test = s.Test.Merge(p)
			s.Test.Phase = "test"
		}
	}
	return s
}

// Totals returns the combined counts and usage of every phase.
func (s Summary) Totals() Profile {
	t := s.Build.Merge(s.Test)
	t.Phase = "integrate"
	t.Elapsed = s.Elapsed
	return t
}

// Failed reports whether any phase had a failure or was trapped.
func (s Summary) Failed() bool {
	t := s.Totals()
	return t.Failed > 0 || t.Trapped
}
