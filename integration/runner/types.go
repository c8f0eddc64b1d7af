package runner

import (
	"time"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// Step actions. Each maps to one API call, except ActionReset.
const (
	ActionReset           = "reset"
	ActionGetModule       = "get_module"
	ActionSaveModule      = "save_module"
	ActionUpdateModule    = "update_module"
	ActionResetModule     = "reset_module"
	ActionConversations   = "conversations"
	ActionTranscript      = "transcript"
	ActionSettings        = "settings"
	ActionPrompt          = "prompt"
	ActionGenerationEnded = "generation_ended"
	ActionAbort           = "abort"
)

// Seed is the host state a suite starts from. It is written straight to
// Redis; the API has no import route.
type Seed struct {
	Floors     []storage.Floor                     `json:"floors"`
	Variables  map[storage.Scope]map[string]any    `json:"variables,omitempty"`
	Bindings   storage.WorldbookBindings           `json:"bindings"`
	Worldbooks map[string][]storage.WorldbookEntry `json:"worldbooks,omitempty"`
	Card       *storage.CharacterCard              `json:"card,omitempty"`
}

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name  string     `json:"name"`
	Seed  Seed       `json:"seed,omitempty"`  // Used for regular tests
	Steps []TestStep `json:"steps,omitempty"` // Used for regular tests
	Cases []string   `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is one API call and its expected outcome.
type TestStep struct {
	Name   string `json:"name,omitempty"`
	Action string `json:"action"`
	// AppendFloor is added to the transcript before the call, the way the
	// host would after a generation.
	AppendFloor *storage.Floor `json:"append_floor,omitempty"`

	Kind      string `json:"kind,omitempty"`
	Character string `json:"character,omitempty"`
	Force     bool   `json:"force,omitempty"`
	ChatType  string `json:"chat_type,omitempty"`
	Target    string `json:"target,omitempty"`
	Body      any    `json:"body,omitempty"`

	Expectations Expectations `json:"expect"`
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	Status *int `json:"status,omitempty"`
	// JSON maps dotted paths into the response body to expected values,
	// e.g. "data.locations.学校.status" or "0.target".
	JSON map[string]any `json:"json,omitempty"`

	// Response Analysis
	ResponseContains    []string `json:"response_contains,omitempty"`
	ResponseNotContains []string `json:"response_not_contains,omitempty"`
	ResponseRegex       string   `json:"response_regex,omitempty"`

	// Host state, read from Redis. For generation_ended these are polled
	// until they hold, since the worker runs asynchronously.
	FloorCount          *int                `json:"floor_count,omitempty"`
	LatestFloorContains []string            `json:"latest_floor_contains,omitempty"`
	WorldbookContains   map[string][]string `json:"worldbook_contains,omitempty"` // entry name -> substrings, primary worldbook
	CharacterVars       []string            `json:"character_vars,omitempty"`     // substrings of the character variables as JSON
}

func (e Expectations) hasHostChecks() bool {
	return e.FloorCount != nil || len(e.LatestFloorContains) > 0 ||
		len(e.WorldbookContains) > 0 || len(e.CharacterVars) > 0
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName     string
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	Status       int
	ResponseText string
	RequestID    string
	IsReset      bool // True if this was a reset step (should not count toward pass/fail metrics)
}

// TestJob represents a test suite to be executed by a worker
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	ChatID   string // chat used for this run
}
