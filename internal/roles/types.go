// Package roles defines the contracts for the three external role
// collaborators (planning, acting, verification), the fatal-error taxonomy
// for their invocations, and loaders for their baseline sampling settings.
package roles

import (
	"context"
	"errors"

	"github.com/taskpilot/orchestrator/internal/director"
)

var (
	// ErrAuthentication marks an auth failure from a role invocation.
	// Never retried, never counted against the failure budget.
	ErrAuthentication = errors.New("authentication failure")

	// ErrForbidden marks an access-forbidden failure from a role invocation.
	ErrForbidden = errors.New("access forbidden")
)

// IsFatal reports whether a role invocation error must terminate the run
// immediately instead of being counted as retryable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrForbidden)
}

// Exchange is one message in the run transcript handed to a role invocation.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PlanInput is the context for one planning invocation.
type PlanInput struct {
	RunID             string                 `json:"run_id"`
	Task              string                 `json:"task"`
	StepIndex         int                    `json:"step_index"`
	History           []Exchange             `json:"history,omitempty"`
	ValidatorFeedback string                 `json:"validator_feedback,omitempty"`
	Settings          director.Settings      `json:"settings"`
	Constraints       director.ConstraintSet `json:"constraints"`
}

// PlanOutput is the planner's strategy for the next stretch of the run.
type PlanOutput struct {
	Done        bool   `json:"done"`
	Observation string `json:"observation,omitempty"`
	Challenges  string `json:"challenges,omitempty"`
	NextSteps   string `json:"next_steps,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
	WebTask     bool   `json:"web_task,omitempty"`
}

// ActInput is the context for one acting invocation.
type ActInput struct {
	RunID     string            `json:"run_id"`
	Task      string            `json:"task"`
	StepIndex int               `json:"step_index"`
	History   []Exchange        `json:"history,omitempty"`
	Settings  director.Settings `json:"settings"`
}

// ActionResult records one concrete action performed by the acting role.
type ActionResult struct {
	ActionName      string `json:"action_name"`
	Extracted       string `json:"extracted,omitempty"`
	Error           string `json:"error,omitempty"`
	IsDone          bool   `json:"is_done,omitempty"`
	IncludeInMemory bool   `json:"include_in_memory,omitempty"`
}

// ActOutput is the acting role's result for one step.
type ActOutput struct {
	Done    bool           `json:"done"`
	Results []ActionResult `json:"results,omitempty"`
}

// ValidateInput is the context for one verification invocation.
type ValidateInput struct {
	RunID   string     `json:"run_id"`
	Task    string     `json:"task"`
	History []Exchange `json:"history,omitempty"`
}

// ValidateOutput is the verification role's judgment of the run outcome.
type ValidateOutput struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

// Planner derives a strategy for the run. Implementations perform network
// I/O and must honor ctx cancellation.
type Planner interface {
	Invoke(ctx context.Context, in PlanInput) (*PlanOutput, error)
}

// Actor performs one unit of work toward the goal.
type Actor interface {
	Invoke(ctx context.Context, in ActInput) (*ActOutput, error)
}

// Validator judges whether the goal is met.
type Validator interface {
	Invoke(ctx context.Context, in ValidateInput) (*ValidateOutput, error)
}
