package eventbus

import "time"

// Event types published by qseq components.
const (
	TypeRunStarted     = "run.start"
	TypeStepDone       = "step.done"
	TypeRunDone        = "run.done"
	TypeTriggerFired   = "trigger.fired"
	TypeTriggerSkipped = "trigger.skipped"
)

// RunInfo is the payload of run.start and run.done.
type RunInfo struct {
	RunID    string
	Sequence string
	Steps    int
	Failed   int
	Slow     int
	Took     time.Duration
	Err      string
}

// StepInfo is the payload of step.done. Phase is "init", "step" or "fini".
type StepInfo struct {
	RunID string
	Phase string
	Index int
	Line  int
	Expr  string
	Took  time.Duration
	Lag   time.Duration
	Err   string
}

// TriggerInfo is the payload of trigger.fired and trigger.skipped.
type TriggerInfo struct {
	Run     uint64
	Skipped uint64
}
