package pipeline

import (
	"time"

	"github.com/colrdavidson/spall-web/bundle"
	"github.com/colrdavidson/spall-web/config"
	"github.com/colrdavidson/spall-web/patch"
)

// Stage names one step of a build.
type Stage string

const (
	StageClean       Stage = "clean"
	StageCompile     Stage = "compile"
	StageDisassemble Stage = "disassemble"
	StagePatch       Stage = "patch"
	StageAssemble    Stage = "assemble"
	StageVerify      Stage = "verify"
	StageOptimize    Stage = "optimize"
	StageFingerprint Stage = "fingerprint"
	StageBundle      Stage = "bundle"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageClean,
	StageCompile,
	StageDisassemble,
	StagePatch,
	StageAssemble,
	StageVerify,
	StageOptimize,
	StageFingerprint,
	StageBundle,
}

// Title returns the progress line shown while the stage runs.
func (s Stage) Title() string {
	switch s {
	case StageClean:
		return "Cleaning..."
	case StageCompile:
		return "Compiling..."
	case StageDisassemble:
		return "Disassembling..."
	case StagePatch:
		return "Patching WASM..."
	case StageAssemble:
		return "Assembling..."
	case StageVerify:
		return "Verifying..."
	case StageOptimize:
		return "Optimizing..."
	case StageFingerprint:
		return "Building dist folder..."
	case StageBundle:
		return "Writing index..."
	}
	return string(s)
}

// Verb returns the past tense used in timing lines, e.g. "Compiled".
func (s Stage) Verb() string {
	switch s {
	case StageClean:
		return "Cleaned"
	case StageCompile:
		return "Compiled"
	case StageDisassemble:
		return "Disassembled"
	case StagePatch:
		return "Patched"
	case StageAssemble:
		return "Assembled"
	case StageVerify:
		return "Verified"
	case StageOptimize:
		return "Optimized"
	case StageFingerprint:
		return "Fingerprinted"
	case StageBundle:
		return "Bundled"
	}
	return string(s)
}

// Status is a stage transition.
type Status int

const (
	StatusStarted Status = iota
	StatusFinished
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusFinished:
		return "finished"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Event reports a stage transition to an Observer.
type Event struct {
	Err      error
	Stage    Stage
	Status   Status
	Duration time.Duration
}

// Observer receives stage events in order. Observe is called on the build
// goroutine and must not block for long.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// Timing is how long one stage ran.
type Timing struct {
	Stage    Stage
	Duration time.Duration
}

// Report summarizes a successful build.
type Report struct {
	Profile config.Profile
	BuildID string

	// Module is the binary that was published.
	Module string

	// Patch is nil unless the profile patches.
	Patch *patch.Result

	Entries []bundle.Entry
	Timings []Timing
	Dist    string
	Files   []string
}

// Duration returns the recorded time for a stage, or zero.
func (r *Report) Duration(s Stage) time.Duration {
	for _, t := range r.Timings {
		if t.Stage == s {
			return t.Duration
		}
	}
	return 0
}

// Total returns the summed stage durations.
func (r *Report) Total() time.Duration {
	var total time.Duration
	for _, t := range r.Timings {
		total += t.Duration
	}
	return total
}
