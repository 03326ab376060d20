// Package orchestrator drives a multi-role task automation run: a bounded
// step loop in which a planning role periodically re-derives a strategy, an
// acting role performs one unit of work, and a verification role judges
// whether the goal is met. The orchestrator owns all mutable run state and
// the exploration controller state; steps execute strictly sequentially.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskpilot/orchestrator/internal/control"
	"github.com/taskpilot/orchestrator/internal/director"
	"github.com/taskpilot/orchestrator/internal/history"
	"github.com/taskpilot/orchestrator/internal/lifecycle"
	"github.com/taskpilot/orchestrator/internal/metrics"
	"github.com/taskpilot/orchestrator/internal/roles"
)

// TerminalState is the outcome of one orchestrated run.
type TerminalState string

const (
	TaskOK        TerminalState = "TASK_OK"
	TaskFail      TerminalState = "TASK_FAIL"
	TaskCancelled TerminalState = "TASK_CANCELLED"
)

// Terminal failure reasons.
var (
	ErrMaxSteps             = errors.New("Max steps reached")
	ErrMaxFailures          = errors.New("Max failures reached")
	ErrMaxValidatorFailures = errors.New("Too many failures of validation")
	ErrRunInProgress        = errors.New("a run is already in progress")
)

const defaultPlannerInterval = 3

// Options configures one orchestrator instance.
type Options struct {
	MaxSteps             int
	MaxFailures          int
	MaxValidatorFailures int
	PlannerInterval      float64
	ValidationEnabled    bool
	PausePollInterval    time.Duration
	RoleCallsPerMinute   int
	HistoryWindow        int

	// Baseline sampling settings; zero values fall back to the role
	// sampling config file.
	PlanningDefaults director.Defaults
	ActingDefaults   director.Defaults
}

func (o *Options) setDefaults() {
	if o.MaxSteps <= 0 {
		o.MaxSteps = 50
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 3
	}
	if o.MaxValidatorFailures <= 0 {
		o.MaxValidatorFailures = 3
	}
	if o.PausePollInterval <= 0 {
		o.PausePollInterval = 200 * time.Millisecond
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 20
	}
	if o.PlanningDefaults.MaxTokens == 0 {
		o.PlanningDefaults = roles.DefaultsForRole("planning")
	}
	if o.ActingDefaults.MaxTokens == 0 {
		o.ActingDefaults = roles.DefaultsForRole("acting")
	}
}

// Result is the terminal outcome of a run. Execute always returns a Result;
// failure detail rides in Err rather than escaping as a panic.
type Result struct {
	State   TerminalState
	Steps   int
	Err     error
	Control control.State
}

// Orchestrator executes one run at a time. Its public control methods
// (Pause, Resume, Cancel, AddFollowUpTask) may be called from any goroutine;
// they are observed cooperatively at step boundaries.
type Orchestrator struct {
	opts      Options
	planner   roles.Planner
	actor     roles.Actor
	validator roles.Validator
	events    *lifecycle.Manager
	store     *history.Store
	logger    *zap.Logger
	limiter   *rate.Limiter

	runID string

	mu                sync.Mutex
	task              string
	run               RunState
	ctrl              control.State
	exchanges         []roles.Exchange
	results           []roles.ActionResult
	validatorFeedback string
	cancelRun         context.CancelFunc
	running           bool
	stopRequested     bool
}

// New builds an orchestrator around the three role collaborators.
func New(planner roles.Planner, actor roles.Actor, validator roles.Validator,
	events *lifecycle.Manager, opts Options, logger *zap.Logger) *Orchestrator {
	opts.setDefaults()

	limit := rate.Inf
	if opts.RoleCallsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RoleCallsPerMinute) / 60.0)
	}

	return &Orchestrator{
		opts:      opts,
		planner:   planner,
		actor:     actor,
		validator: validator,
		events:    events,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, 1),
		runID:     uuid.New().String(),
		ctrl:      control.Initial(),
	}
}

// AttachHistory wires an optional transcript store; step exchanges are then
// mirrored to Redis in addition to the in-memory window.
func (o *Orchestrator) AttachHistory(store *history.Store) {
	o.store = store
}

// RunID returns the identifier lifecycle events are published under.
func (o *Orchestrator) RunID() string { return o.runID }

// ControlState returns a snapshot of the current controller state.
func (o *Orchestrator) ControlState() control.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctrl
}

// Snapshot returns a copy of the current run state.
func (o *Orchestrator) Snapshot() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	run := o.run
	run.PendingTasks = append([]string(nil), o.run.PendingTasks...)
	return run
}

// Pause requests a cooperative pause at the next step boundary. An in-flight
// role call is allowed to finish; only the next call is held back.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Stopped {
		return
	}
	o.run.Paused = true
	o.logger.Info("pause requested", zap.String("run_id", o.runID))
}

// Resume lifts a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.run.Paused = false
	o.logger.Info("resume requested", zap.String("run_id", o.runID))
}

// Cancel stops the run and aborts any in-flight role invocation. A cancel
// issued before Execute starts is remembered and stops that run at its first
// step boundary.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.run.Stopped = true
	o.stopRequested = true
	cancel := o.cancelRun
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.logger.Info("cancel requested", zap.String("run_id", o.runID))
}

// AddFollowUpTask queues another task for the run. It is observed at the
// next loop entry, never mid-step. Buffered action results not flagged for
// retention are dropped so stale context does not leak into the new task.
func (o *Orchestrator) AddFollowUpTask(task string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.run.PendingTasks = append(o.run.PendingTasks, task)
	kept := make([]roles.ActionResult, 0, len(o.results))
	for _, r := range o.results {
		if r.IncludeInMemory {
			kept = append(kept, r)
		}
	}
	o.results = kept
}

// Subscribe registers a lifecycle observer for this run.
func (o *Orchestrator) Subscribe(buffer int) chan lifecycle.Event {
	return o.events.Subscribe(o.runID, buffer)
}

// Unsubscribe removes and closes a lifecycle observer channel.
func (o *Orchestrator) Unsubscribe(ch chan lifecycle.Event) {
	o.events.Unsubscribe(o.runID, ch)
}

// Execute drives the run to a terminal state. It never panics outward;
// unexpected failures are reported through a TASK_FAIL notification and the
// returned Result.
func (o *Orchestrator) Execute(ctx context.Context, task string) (res Result) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Result{State: TaskFail, Err: ErrRunInProgress}
	}
	o.running = true
	o.task = task
	o.cancelRun = cancel
	o.run = RunState{
		CurrentPlannerInterval:    defaultPlannerInterval,
		LastPlannerAdjustmentStep: -1,
		Stopped:                   o.stopRequested,
	}
	o.ctrl = control.Initial()
	o.exchanges = nil
	o.results = nil
	o.validatorFeedback = ""
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			o.logger.Error("run aborted by unexpected failure",
				zap.String("run_id", o.runID),
				zap.Any("cause", r),
			)
			o.emit(lifecycle.ActorSystem, lifecycle.TaskFail, err.Error())
			metrics.RunsCompleted.WithLabelValues("fail").Inc()
			res = Result{State: TaskFail, Err: err, Control: o.ControlState()}
		}
		o.mu.Lock()
		o.running = false
		o.cancelRun = nil
		o.stopRequested = false
		o.mu.Unlock()
	}()

	o.logger.Info("run started",
		zap.String("run_id", o.runID),
		zap.String("task", task),
		zap.Int("max_steps", o.opts.MaxSteps),
	)
	o.emit(lifecycle.ActorSystem, lifecycle.TaskStart, task)
	metrics.RunsStarted.Inc()

	if o.store != nil {
		if _, err := o.store.Create(runCtx, o.runID, task); err != nil {
			o.logger.Warn("transcript store unavailable", zap.Error(err))
		}
	}
	o.appendExchange(runCtx, "user", task)

	return o.loop(runCtx)
}

func (o *Orchestrator) loop(ctx context.Context) Result {
	forcePlan := false
	contextWindow, supportsTopK := roles.ModelLimits()

	for {
		o.mu.Lock()
		step := o.run.StepIndex
		o.mu.Unlock()
		if step >= o.opts.MaxSteps {
			return o.fatal(step, ErrMaxSteps)
		}

		if o.waitAtBoundary(ctx) {
			return o.cancelled(step)
		}
		o.absorbFollowUps(ctx)

		stepStart := time.Now()
		o.emit(lifecycle.ActorSystem, lifecycle.StepStart, fmt.Sprintf("step %d", step))
		metrics.StepsStarted.Inc()

		o.mu.Lock()
		ctrl := o.ctrl
		run := o.run
		o.mu.Unlock()

		inputTokens := o.estimateInputTokens()
		mc := director.ModelContext{
			InputTokens:   inputTokens,
			ContextWindow: contextWindow,
			SupportsTopK:  supportsTopK,
		}
		planSettings := director.Direct(director.RolePlanning, ctrl.Exploration, ctrl.GoalGlide, o.opts.PlanningDefaults, mc)
		actSettings := director.Direct(director.RoleActing, ctrl.Exploration, ctrl.GoalGlide, o.opts.ActingDefaults, mc)
		constraints := director.Tune(ctrl.GoalGlide)

		cad := ResolveCadence(run, o.opts.PlannerInterval)
		o.mu.Lock()
		o.run.CurrentPlannerInterval = cad.Interval
		o.run.LastPlannerAdjustmentStep = cad.LastAdjustmentStep
		o.mu.Unlock()

		planDone := false
		var stepErr error
		if step%cad.Interval == 0 || forcePlan {
			out, err := o.invokePlanner(ctx, step, planSettings, constraints)
			switch {
			case err == nil:
				forcePlan = false
				planDone = out.Done
			case roles.IsFatal(err):
				return o.fatal(step, err)
			case ctx.Err() != nil:
				return o.cancelled(step)
			default:
				stepErr = err
			}
		}

		stepDone := planDone
		if stepErr == nil && !planDone {
			out, err := o.invokeActor(ctx, step, actSettings)
			switch {
			case err == nil:
				o.mu.Lock()
				o.run.ConsecutiveFailures = 0
				o.results = append(o.results, out.Results...)
				o.mu.Unlock()
				stepDone = out.Done
			case roles.IsFatal(err):
				return o.fatal(step, err)
			case ctx.Err() != nil:
				return o.cancelled(step)
			default:
				stepErr = err
			}
		}

		if stepErr != nil {
			o.mu.Lock()
			o.run.ConsecutiveFailures++
			failures := o.run.ConsecutiveFailures
			o.mu.Unlock()

			o.emit(lifecycle.ActorSystem, lifecycle.StepFail, stepErr.Error())
			metrics.StepFailures.Inc()
			o.logger.Warn("step failed",
				zap.String("run_id", o.runID),
				zap.Int("step", step),
				zap.Int("consecutive_failures", failures),
				zap.Error(stepErr),
			)
			o.updateControl(stepErr, false, inputTokens, contextWindow)

			if failures >= o.opts.MaxFailures {
				return o.fatal(step, ErrMaxFailures)
			}
			o.advance(stepStart)
			continue
		}

		o.emit(lifecycle.ActorSystem, lifecycle.StepOK, fmt.Sprintf("step %d completed", step))
		o.updateControl(nil, true, inputTokens, contextWindow)

		if stepDone {
			o.mu.Lock()
			paused, stopped := o.run.Paused, o.run.Stopped
			o.mu.Unlock()

			if !o.opts.ValidationEnabled {
				return o.succeed(step)
			}
			if !paused && !stopped {
				vout, err := o.invokeValidator(ctx, step)
				switch {
				case err == nil && vout.IsValid:
					return o.succeed(step)
				case err == nil:
					o.mu.Lock()
					o.run.ConsecutiveValidatorFailures++
					rejections := o.run.ConsecutiveValidatorFailures
					o.mu.Unlock()
					forcePlan = true
					if rejections >= o.opts.MaxValidatorFailures {
						return o.fatal(step, ErrMaxValidatorFailures)
					}
				case roles.IsFatal(err):
					return o.fatal(step, err)
				case ctx.Err() != nil:
					return o.cancelled(step)
				default:
					// Transient verification error; re-plan and retry.
					forcePlan = true
					o.mu.Lock()
					o.run.ConsecutiveFailures++
					failures := o.run.ConsecutiveFailures
					o.mu.Unlock()
					if failures >= o.opts.MaxFailures {
						return o.fatal(step, ErrMaxFailures)
					}
				}
			}
		}

		o.advance(stepStart)
	}
}

// waitAtBoundary blocks while the run is paused, polling cooperatively.
// It reports true when the run should terminate as cancelled.
func (o *Orchestrator) waitAtBoundary(ctx context.Context) bool {
	ticker := time.NewTicker(o.opts.PausePollInterval)
	defer ticker.Stop()

	announced := false
	for {
		o.mu.Lock()
		paused, stopped := o.run.Paused, o.run.Stopped
		o.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return true
		}
		if !paused {
			return false
		}
		if !announced {
			o.emit(lifecycle.ActorSystem, lifecycle.TaskPaused, "run paused")
			metrics.RunsPaused.Inc()
			announced = true
		}

		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
}

// absorbFollowUps folds queued follow-up tasks into the run context. The
// latest follow-up becomes the active task.
func (o *Orchestrator) absorbFollowUps(ctx context.Context) {
	o.mu.Lock()
	tasks := o.run.PendingTasks
	o.run.PendingTasks = nil
	if len(tasks) > 0 {
		o.task = tasks[len(tasks)-1]
	}
	o.mu.Unlock()

	for _, t := range tasks {
		o.logger.Info("follow-up task absorbed", zap.String("run_id", o.runID), zap.String("task", t))
		o.appendExchange(ctx, "user", t)
	}
}

func (o *Orchestrator) invokePlanner(ctx context.Context, step int, settings director.Settings, constraints director.ConstraintSet) (*roles.PlanOutput, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	metrics.PlannerInvocations.Inc()

	o.mu.Lock()
	in := roles.PlanInput{
		RunID:             o.runID,
		Task:              o.task,
		StepIndex:         step,
		ValidatorFeedback: o.validatorFeedback,
		Settings:          settings,
		Constraints:       constraints,
	}
	o.mu.Unlock()
	in.History = o.recentExchanges()

	out, err := o.planner.Invoke(ctx, in)
	if err != nil {
		metrics.RoleFailures.WithLabelValues("planning").Inc()
		o.emit(lifecycle.ActorPlanner, lifecycle.PlanFail, err.Error())
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	o.emit(lifecycle.ActorPlanner, lifecycle.PlanOK, out.NextSteps)
	if out.NextSteps != "" {
		o.appendExchange(ctx, "planner", out.NextSteps)
	}
	return out, nil
}

func (o *Orchestrator) invokeActor(ctx context.Context, step int, settings director.Settings) (*roles.ActOutput, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	in := roles.ActInput{
		RunID:     o.runID,
		Task:      o.task,
		StepIndex: step,
		Settings:  settings,
	}
	o.mu.Unlock()
	in.History = o.recentExchanges()

	out, err := o.actor.Invoke(ctx, in)
	if err != nil {
		metrics.RoleFailures.WithLabelValues("acting").Inc()
		return nil, fmt.Errorf("acting failed: %w", err)
	}

	for _, r := range out.Results {
		if r.IncludeInMemory && r.Extracted != "" {
			o.appendExchange(ctx, "navigator", r.Extracted)
		}
	}
	return out, nil
}

func (o *Orchestrator) invokeValidator(ctx context.Context, step int) (*roles.ValidateOutput, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	in := roles.ValidateInput{RunID: o.runID, Task: o.task}
	o.mu.Unlock()
	in.History = o.recentExchanges()

	out, err := o.validator.Invoke(ctx, in)
	if err != nil {
		metrics.RoleFailures.WithLabelValues("validation").Inc()
		o.emit(lifecycle.ActorValidator, lifecycle.ValidateFail, err.Error())
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if out.IsValid {
		o.emit(lifecycle.ActorValidator, lifecycle.ValidateOK, out.Answer)
		return out, nil
	}

	metrics.ValidationRejections.Inc()
	o.emit(lifecycle.ActorValidator, lifecycle.ValidateFail, out.Reason)
	o.mu.Lock()
	o.validatorFeedback = out.Reason
	o.mu.Unlock()
	if out.Reason != "" {
		o.appendExchange(ctx, "validator", out.Reason)
	}
	o.logger.Info("verification rejected",
		zap.String("run_id", o.runID),
		zap.Int("step", step),
		zap.String("reason", out.Reason),
	)
	return out, nil
}

// updateControl feeds this step's outcome into the exploration controller
// and publishes the resulting signals.
func (o *Orchestrator) updateControl(stepErr error, success bool, inputTokens, contextWindow int) {
	t := control.Telemetry{
		LastOutcomeSuccess: success,
		TimeoutHappened:    isTimeout(stepErr),
		LoopScore:          o.loopScore(),
		InputTokens:        inputTokens,
		ContextWindow:      contextWindow,
	}

	o.mu.Lock()
	o.ctrl = control.Step(o.ctrl, t)
	ctrl := o.ctrl
	o.mu.Unlock()

	metrics.ExplorationIntensity.Set(ctrl.Exploration)
	metrics.GoalGlide.Set(ctrl.GoalGlide)
	o.logger.Debug("controller updated",
		zap.String("run_id", o.runID),
		zap.Float64("exploration", ctrl.Exploration),
		zap.Float64("goal_glide", ctrl.GoalGlide),
		zap.Float64("ema_success", ctrl.EMASuccess),
	)
}

func (o *Orchestrator) advance(stepStart time.Time) {
	metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
	o.mu.Lock()
	o.run.StepIndex++
	o.mu.Unlock()
}

func (o *Orchestrator) succeed(step int) Result {
	o.emit(lifecycle.ActorSystem, lifecycle.TaskOK, "task completed")
	metrics.RunsCompleted.WithLabelValues("ok").Inc()
	o.logger.Info("run completed", zap.String("run_id", o.runID), zap.Int("steps", step+1))
	return Result{State: TaskOK, Steps: step + 1, Control: o.ControlState()}
}

func (o *Orchestrator) fatal(step int, err error) Result {
	o.emit(lifecycle.ActorSystem, lifecycle.TaskFail, err.Error())
	metrics.RunsCompleted.WithLabelValues("fail").Inc()
	o.logger.Error("run failed", zap.String("run_id", o.runID), zap.Int("step", step), zap.Error(err))
	return Result{State: TaskFail, Steps: step, Err: err, Control: o.ControlState()}
}

func (o *Orchestrator) cancelled(step int) Result {
	o.emit(lifecycle.ActorSystem, lifecycle.TaskCancelled, "run cancelled")
	metrics.RunsCompleted.WithLabelValues("cancelled").Inc()
	o.logger.Info("run cancelled", zap.String("run_id", o.runID), zap.Int("step", step))
	return Result{State: TaskCancelled, Steps: step, Control: o.ControlState()}
}

func (o *Orchestrator) emit(actor, state, message string) {
	o.events.Publish(lifecycle.Event{
		RunID:     o.runID,
		Actor:     actor,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// appendExchange records one transcript entry in the in-memory window and,
// when configured, the external store. Store failures never affect the loop.
func (o *Orchestrator) appendExchange(ctx context.Context, role, content string) {
	o.mu.Lock()
	o.exchanges = append(o.exchanges, roles.Exchange{Role: role, Content: content})
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Append(ctx, o.runID, role, content, estimateTokens(content)); err != nil {
			o.logger.Warn("failed to persist transcript entry", zap.Error(err))
		}
	}
}

func (o *Orchestrator) recentExchanges() []roles.Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.exchanges)
	if n <= o.opts.HistoryWindow {
		return append([]roles.Exchange(nil), o.exchanges...)
	}
	return append([]roles.Exchange(nil), o.exchanges[n-o.opts.HistoryWindow:]...)
}

func (o *Orchestrator) estimateInputTokens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, ex := range o.exchanges {
		total += estimateTokens(ex.Content)
	}
	return total
}

// loopScore measures repetition across the recent action window: 0 when
// every action differs, 1 when they are all identical.
func (o *Orchestrator) loopScore() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	window := o.results
	if len(window) > 6 {
		window = window[len(window)-6:]
	}
	if len(window) < 2 {
		return 0
	}

	seen := make(map[string]int, len(window))
	most := 0
	for _, r := range window {
		key := r.ActionName + "\x00" + r.Extracted
		seen[key]++
		if seen[key] > most {
			most = seen[key]
		}
	}
	return float64(most-1) / float64(len(window)-1)
}

// estimateTokens approximates token counts at 4 chars per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// isTimeout classifies an error as a timeout for controller telemetry.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
