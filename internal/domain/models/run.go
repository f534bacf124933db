package models

import "time"

// RunState is a pipeline state machine node.
type RunState string

const (
	RunNotStarted           RunState = "NOT_STARTED"
	RunCheckingMode         RunState = "CHECKING_MODE"
	RunFetchingMacroContext RunState = "FETCHING_MACRO_CONTEXT"
	RunProcessingAssets     RunState = "PROCESSING_ASSETS"
	RunCompleted            RunState = "COMPLETED"
	RunAborted              RunState = "ABORTED"
)

// Outcome classifies a per-asset result.
type Outcome string

const (
	OutcomeDecided  Outcome = "DECIDED"
	OutcomeNoSignal Outcome = "NO_SIGNAL"
	OutcomeSkipped  Outcome = "SKIPPED"
)

// AssetResult is the run-level outcome for one asset.
type AssetResult struct {
	Ticker       string   `json:"ticker"`
	Outcome      Outcome  `json:"outcome"`
	Decision     string   `json:"decision"`
	Confidence   float64  `json:"confidence"`
	RawScore     float64  `json:"raw_score"`
	AgentCount   int      `json:"agent_count"`
	Reason       string   `json:"reason,omitempty"`
	FailedAgents []string `json:"failed_agents,omitempty"`
	DecisionHash string   `json:"decision_hash,omitempty"`
}

// Run is one execution of the pipeline.
type Run struct {
	ID          string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	State       RunState      `json:"state"`
	Mode        string        `json:"mode"`
	AbortReason string        `json:"abort_reason,omitempty"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Macro       *MacroOutcome `json:"macro,omitempty"`
	Results     []AssetResult `json:"results"`
}

// MacroOutcome records the macro agent call of a run.
type MacroOutcome struct {
	Signal Signal `json:"signal,omitempty"`
	Regime string `json:"regime,omitempty"`
	Failed bool   `json:"failed,omitempty"`
}

// Count returns how many results carry the outcome.
func (r *Run) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// RunArtifact is the exported document of a completed run.
type RunArtifact struct {
	RunID     string           `json:"run_id"`
	Timestamp time.Time        `json:"timestamp"`
	Results   []ArtifactResult `json:"results"`
}

type ArtifactResult struct {
	Ticker     string  `json:"ticker"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"raw_score"`
	AgentCount int     `json:"agent_count"`
}

// Artifact builds the export document.
func (r *Run) Artifact() RunArtifact {
	out := RunArtifact{
		RunID:     r.ID,
		Timestamp: r.StartedAt,
		Results:   make([]ArtifactResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		out.Results = append(out.Results, ArtifactResult{
			Ticker:     res.Ticker,
			Decision:   res.Decision,
			Confidence: res.Confidence,
			RawScore:   res.RawScore,
			AgentCount: res.AgentCount,
		})
	}
	return out
}

// DecisionEvent is broadcast after a final decision is appended.
type DecisionEvent struct {
	RunID      string    `json:"run_id"`
	Ticker     string    `json:"ticker"`
	Decision   string    `json:"decision"`
	Confidence float64   `json:"confidence"`
	RawScore   float64   `json:"raw_score"`
	AgentCount int       `json:"agent_count"`
	Hash       string    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
}
