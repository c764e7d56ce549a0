package schemas

import "time"

// -- Interaction Results --

// InteractionOutcome is the tri-state result of an optional interaction.
type InteractionOutcome string

const (
	// OutcomePerformed means the element was found and the action succeeded.
	OutcomePerformed InteractionOutcome = "performed"
	// OutcomeSkippedAbsent means the element never appeared, which is an
	// expected state for optional UI such as promo dialogs.
	OutcomeSkippedAbsent InteractionOutcome = "skipped_absent"
	// OutcomeFailed means the element was present but the action failed, or
	// the attempt could not be made at all.
	OutcomeFailed InteractionOutcome = "failed"
)

// -- Run Records --

// RunStatus is the overall verdict of a scenario run.
type RunStatus string

const (
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunAborted RunStatus = "aborted"
)

// StepRecord captures the outcome of a single scenario step.
type StepRecord struct {
	Name     string        `json:"name"`
	Action   string        `json:"action"`
	Outcome  string        `json:"outcome"`
	Optional bool          `json:"optional,omitempty"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	// Detail carries step specific output, e.g. an extracted value.
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunRecord captures one scenario execution end to end.
type RunRecord struct {
	ID        string        `json:"id"`
	Scenario  string        `json:"scenario"`
	Target    string        `json:"target"`
	Engine    string        `json:"engine"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Status    RunStatus     `json:"status"`
	Steps     []StepRecord  `json:"steps"`
}
