package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/metrics"
	"github.com/Feddakalkun/comfyuifeddafront/internal/slot"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

// Engine is the part of the engine client the runner needs.
type Engine interface {
	Submit(ctx context.Context, graph workflow.Template) (string, error)
	FetchResult(ctx context.Context, jobID string, nodeIDs ...string) ([]comfy.Artifact, error)
	ArtifactURL(a comfy.Artifact, bust time.Time) string
}

// PushChannel opens the engine's progress channel.
type PushChannel interface {
	Connect(ctx context.Context, cb comfy.Callbacks) (func(), error)
}

// TemplateSource hands out private template copies.
type TemplateSource interface {
	Load(ctx context.Context, name string) (workflow.Template, error)
}

// PollConfig bounds result polling.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPoll waits up to two minutes.
var DefaultPoll = PollConfig{Interval: 2 * time.Second, MaxAttempts: 60}

var ErrNothingToResume = errors.New("generation: no job to resume")

// RetrievalTimeoutError reports that polling ran out of attempts.
type RetrievalTimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e *RetrievalTimeoutError) Error() string {
	return fmt.Sprintf("generation: no result for job %s after %d attempts (%s)", e.JobID, e.Attempts, e.Waited)
}

// ExecutionError reports a job the engine started but could not finish.
type ExecutionError struct {
	JobID    string
	NodeID   string
	NodeType string
	Message  string
}

func (e *ExecutionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("generation: job %s failed: %s", e.JobID, e.Message)
	}
	return fmt.Sprintf("generation: job %s failed at node %s (%s): %s", e.JobID, e.NodeID, e.NodeType, e.Message)
}

// InvalidRequestError wraps a request the runner refused before submitting.
type InvalidRequestError struct{ Err error }

func (e *InvalidRequestError) Error() string { return "generation: invalid request: " + e.Err.Error() }
func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Options wires a Runner.
type Options struct {
	Page           string
	DefaultProfile string
	Engine         Engine
	Channel        PushChannel
	Templates      TemplateSource
	Profiles       *workflow.Profiles
	Patcher        *workflow.Patcher
	Slot           slot.Store
	Holder         *Holder
	Poll           PollConfig
	Logger         *infra.Logger
	Now            func() time.Time
}

// Result is a resolved job.
type Result struct {
	JobID     string           `json:"job_id"`
	Seed      int64            `json:"seed"`
	Artifacts []comfy.Artifact `json:"artifacts"`
	URLs      []string         `json:"urls"`
}

// Runner drives one page: it submits jobs, tracks them and writes every
// outcome into the page's Holder. One job runs at a time.
type Runner struct {
	page           string
	defaultProfile string
	engine         Engine
	channel        PushChannel
	templates      TemplateSource
	profiles       *workflow.Profiles
	patcher        *workflow.Patcher
	slot           slot.Store
	holder         *Holder
	poll           PollConfig
	logger         *infra.Logger
	now            func() time.Time

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextRun int
	closed  bool
	wg      sync.WaitGroup
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Engine == nil {
		return nil, errors.New("generation: engine is required")
	}
	if opts.Templates == nil {
		return nil, errors.New("generation: template source is required")
	}
	r := &Runner{
		page:           opts.Page,
		defaultProfile: opts.DefaultProfile,
		engine:         opts.Engine,
		channel:        opts.Channel,
		templates:      opts.Templates,
		profiles:       opts.Profiles,
		patcher:        opts.Patcher,
		slot:           opts.Slot,
		holder:         opts.Holder,
		poll:           opts.Poll,
		logger:         infra.OrDiscard(opts.Logger),
		now:            opts.Now,
		cancels:        map[int]context.CancelFunc{},
	}
	if r.page == "" {
		r.page = "image"
	}
	if r.defaultProfile == "" {
		r.defaultProfile = "z-image"
	}
	if r.profiles == nil {
		r.profiles = workflow.DefaultProfiles()
	}
	if r.patcher == nil {
		r.patcher = workflow.NewPatcher(nil)
	}
	if r.slot == nil {
		r.slot = slot.Nop{}
	}
	if r.holder == nil {
		r.holder = NewHolder(nil)
	}
	if r.poll.Interval <= 0 {
		r.poll.Interval = DefaultPoll.Interval
	}
	if r.poll.MaxAttempts <= 0 {
		r.poll.MaxAttempts = DefaultPoll.MaxAttempts
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Holder returns the page state.
func (r *Runner) Holder() *Holder { return r.holder }

// Page returns the page name.
func (r *Runner) Page() string { return r.page }

// Generate runs one job to completion and blocks until it is resolved,
// failed or ctx ends.
func (r *Runner) Generate(ctx context.Context, profileName string, req workflow.Request) (*Result, error) {
	profile, req, err := r.prepare(profileName, req)
	if err != nil {
		return nil, err
	}
	if err := r.holder.Begin(); err != nil {
		return nil, err
	}
	runCtx, done, err := r.track(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return r.run(runCtx, profile, req)
}

// Start begins a job and tracks it in the background. It returns once the
// page has accepted the job; the outcome appears in the Holder.
func (r *Runner) Start(ctx context.Context, profileName string, req workflow.Request) error {
	profile, req, err := r.prepare(profileName, req)
	if err != nil {
		return err
	}
	if err := r.holder.Begin(); err != nil {
		return err
	}
	runCtx, done, err := r.track(ctx)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer done()
		if _, err := r.run(runCtx, profile, req); err != nil {
			r.logger.Debug().Err(err).Str("page", r.page).Msg("generation: background run ended")
		}
	}()
	return nil
}

// Resume re-attaches to the job in the slot and waits for its result.
func (r *Runner) Resume(ctx context.Context) (*Result, error) {
	wait, err := r.attach(ctx)
	if err != nil {
		return nil, err
	}
	return wait()
}

// StartResume is Resume in the background.
func (r *Runner) StartResume(ctx context.Context) error {
	wait, err := r.attach(ctx)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := wait(); err != nil {
			r.logger.Debug().Err(err).Str("page", r.page).Msg("generation: resumed run ended")
		}
	}()
	return nil
}

func (r *Runner) attach(ctx context.Context) (func() (*Result, error), error) {
	job, err := r.slot.Load(ctx)
	if errors.Is(err, slot.ErrEmpty) {
		return nil, ErrNothingToResume
	}
	if err != nil {
		return nil, err
	}
	jobID := job.ID
	profile, err := r.resumeProfile(job)
	if err != nil {
		return nil, err
	}
	if err := r.holder.Attach(jobID); err != nil {
		return nil, err
	}
	runCtx, done, err := r.track(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("page", r.page).Str("job_id", jobID).Str("profile", profile.Name).Msg("generation: resuming job")
	return func() (*Result, error) {
		defer done()
		signals := make(chan pushSignal, 8)
		disconnect := r.connect(runCtx, profile, jobID, signals)
		defer disconnect()
		return r.await(runCtx, profile, jobID, 0, signals)
	}, nil
}

// resumeProfile returns the profile a stored job was submitted with. Jobs
// saved without one, or under a profile no longer loaded, use the page
// default.
func (r *Runner) resumeProfile(job slot.Job) (workflow.Profile, error) {
	if job.Profile != "" {
		profile, err := r.profiles.Get(job.Profile)
		if err == nil {
			return profile, nil
		}
		r.logger.Warn().Err(err).Str("page", r.page).Str("job_id", job.ID).Str("profile", job.Profile).Msg("generation: stored profile unavailable, using page default")
	}
	return r.profiles.Get(r.defaultProfile)
}

// Close cancels any job in flight, disconnects its channel and freezes the
// page state. It waits for background runs to return.
func (r *Runner) Close() {
	r.holder.Close()
	r.mu.Lock()
	r.closed = true
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) prepare(profileName string, req workflow.Request) (workflow.Profile, workflow.Request, error) {
	if profileName == "" {
		profileName = r.defaultProfile
	}
	profile, err := r.profiles.Get(profileName)
	if err != nil {
		return workflow.Profile{}, req, err
	}
	req = profile.Complete(req)
	if err := req.Validate(); err != nil {
		return workflow.Profile{}, req, &InvalidRequestError{Err: err}
	}
	return profile, req, nil
}

// track derives a run context that Close can cancel.
func (r *Runner) track(ctx context.Context) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	id := r.nextRun
	r.nextRun++
	r.cancels[id] = cancel
	return runCtx, func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
	}, nil
}

type pushSignal struct {
	trigger string
	failure *ExecutionError
}

func (r *Runner) run(ctx context.Context, profile workflow.Profile, req workflow.Request) (*Result, error) {
	logger := r.logger.With().Str("page", r.page).Str("profile", profile.Name).Logger()

	tmpl, err := r.templates.Load(ctx, profile.Template)
	if err != nil {
		return nil, r.fail(ctx, "", err)
	}
	graph, applied := r.patcher.Patch(tmpl, profile, req)

	jobID, err := r.engine.Submit(ctx, graph)
	if err != nil {
		return nil, r.fail(ctx, "", err)
	}
	metrics.GenerationsSubmitted.WithLabelValues(r.page, profile.Name).Inc()
	logger.Info().Str("job_id", jobID).Int64("seed", applied.Seed).Strs("nodes", applied.Touched).Msg("generation: job submitted")

	if err := r.slot.Save(ctx, slot.Job{ID: jobID, Profile: profile.Name}); err != nil {
		logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: could not persist job id")
	}
	r.holder.Submitted(jobID, applied.Seed)

	// Events sent before the channel is up are missed; the first poll
	// picks up a job that already finished.
	signals := make(chan pushSignal, 8)
	disconnect := r.connect(ctx, profile, jobID, signals)
	defer disconnect()
	return r.await(ctx, profile, jobID, applied.Seed, signals)
}

// connect opens the push channel for jobID. A channel that cannot be opened
// leaves polling as the only completion path.
func (r *Runner) connect(ctx context.Context, profile workflow.Profile, jobID string, signals chan<- pushSignal) func() {
	if r.channel == nil {
		return func() {}
	}
	isTracked := func(promptID string) bool {
		return promptID == "" || promptID == jobID
	}
	send := func(s pushSignal) {
		select {
		case signals <- s:
		default:
		}
	}
	disconnect, err := r.channel.Connect(ctx, comfy.Callbacks{
		OnStatus: func(s comfy.StatusData) { r.holder.SetQueue(s.QueueRemaining()) },
		OnProgress: func(p comfy.ProgressData) {
			if isTracked(p.PromptID) {
				r.holder.SetProgress(p.Percent())
			}
		},
		OnExecuting: func(e comfy.ExecutingData) {
			if !isTracked(e.PromptID) {
				return
			}
			r.holder.SetStage(StageLabel(profile.Stages, e.Node))
			if e.Done() {
				send(pushSignal{trigger: "executing"})
			}
		},
		OnExecuted: func(e comfy.ExecutedData) {
			if !isTracked(e.PromptID) {
				return
			}
			if profile.OutputNode == "" || e.Node == profile.OutputNode {
				send(pushSignal{trigger: "executed"})
			}
		},
		OnFailure: func(f comfy.ExecutionErrorData) {
			if !isTracked(f.PromptID) {
				return
			}
			send(pushSignal{failure: &ExecutionError{JobID: jobID, NodeID: f.NodeID, NodeType: f.NodeType, Message: f.ExceptionMessage}})
		},
		OnError: func(error) { metrics.FramesDropped.Inc() },
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("page", r.page).Msg("generation: progress channel unavailable, polling only")
		return func() {}
	}
	return disconnect
}

// await resolves a submitted job. Polling and push signals race in one loop;
// whichever first yields artifacts wins, and exhausting the attempts fails
// the job.
func (r *Runner) await(ctx context.Context, profile workflow.Profile, jobID string, seed int64, signals <-chan pushSignal) (*Result, error) {
	started := r.now()
	metrics.GenerationsActive.WithLabelValues(r.page).Inc()
	defer metrics.GenerationsActive.WithLabelValues(r.page).Dec()

	maxAttempts := r.poll.MaxAttempts
	if profile.PollAttempts > 0 {
		maxAttempts = profile.PollAttempts
	}
	var nodes []string
	if profile.OutputNode != "" {
		nodes = []string{profile.OutputNode}
	}

	timer := time.NewTimer(r.poll.Interval)
	defer timer.Stop()
	attempts := 0
	for {
		var trigger string
		select {
		case <-ctx.Done():
			return nil, r.fail(ctx, jobID, ctx.Err())
		case sig := <-signals:
			if sig.failure != nil {
				return nil, r.abandon(ctx, jobID, sig.failure)
			}
			trigger = sig.trigger
		case <-timer.C:
			attempts++
			trigger = "poll"
			metrics.PollAttempts.WithLabelValues(r.page).Inc()
		}

		artifacts, err := r.engine.FetchResult(ctx, jobID, nodes...)
		var failed *comfy.JobFailedError
		switch {
		case ctx.Err() != nil:
			return nil, r.fail(ctx, jobID, ctx.Err())
		case errors.As(err, &failed):
			return nil, r.abandon(ctx, jobID, &ExecutionError{JobID: jobID, NodeID: failed.NodeID, NodeType: failed.NodeType, Message: failed.Message})
		case err != nil && !comfy.IsConnectivity(err):
			return nil, r.fail(ctx, jobID, err)
		case err != nil:
			r.logger.Debug().Err(err).Str("job_id", jobID).Int("attempt", attempts).Msg("generation: history unreachable, retrying")
		case len(artifacts) > 0:
			return r.resolve(ctx, profile, jobID, seed, artifacts, trigger, started), nil
		}

		if trigger == "poll" {
			if attempts >= maxAttempts {
				return nil, r.fail(ctx, jobID, &RetrievalTimeoutError{JobID: jobID, Attempts: attempts, Waited: r.now().Sub(started)})
			}
			timer.Reset(r.poll.Interval)
		}
	}
}

func (r *Runner) resolve(ctx context.Context, profile workflow.Profile, jobID string, seed int64, artifacts []comfy.Artifact, trigger string, started time.Time) *Result {
	bust := r.now()
	urls := make([]string, len(artifacts))
	for i, a := range artifacts {
		urls[i] = r.engine.ArtifactURL(a, bust)
	}
	if r.holder.Complete(urls) {
		metrics.GenerationsCompleted.WithLabelValues(r.page, profile.Name, trigger).Inc()
		metrics.GenerationDuration.WithLabelValues(r.page, profile.Name).Observe(r.now().Sub(started).Seconds())
	}
	if err := r.slot.Clear(ctx); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: could not clear job id")
	}
	r.logger.Info().
		Str("page", r.page).
		Str("job_id", jobID).
		Str("trigger", trigger).
		Int("artifacts", len(artifacts)).
		Msg("generation: job resolved")
	return &Result{JobID: jobID, Seed: seed, Artifacts: artifacts, URLs: urls}
}

// fail records err on the page and returns it. A cancelled run reports the
// cancellation instead; after Close the holder ignores both.
func (r *Runner) fail(ctx context.Context, jobID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.holder.Fail("Generation cancelled")
		return ctxErr
	}
	reason := failureReason(err)
	metrics.GenerationsFailed.WithLabelValues(r.page, reason).Inc()
	r.logger.Warn().Err(err).Str("page", r.page).Str("job_id", jobID).Str("reason", reason).Msg("generation: job failed")
	r.holder.Fail(UserMessage(err))
	return err
}

// abandon fails a job the engine will never finish and clears the slot, so
// a restart does not re-attach to it.
func (r *Runner) abandon(ctx context.Context, jobID string, err error) error {
	err = r.fail(ctx, jobID, err)
	if ctx.Err() != nil {
		return err
	}
	if clearErr := r.slot.Clear(ctx); clearErr != nil {
		r.logger.Warn().Err(clearErr).Str("job_id", jobID).Msg("generation: could not clear job id")
	}
	return err
}

func failureReason(err error) string {
	var (
		notFound *workflow.NotFoundError
		submit   *comfy.SubmitError
		timeout  *RetrievalTimeoutError
		exec     *ExecutionError
		result   *comfy.ResultError
	)
	switch {
	case errors.As(err, &notFound):
		return "template"
	case errors.As(err, &submit):
		return "rejected"
	case comfy.IsConnectivity(err):
		return "offline"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &exec):
		return "execution"
	case errors.As(err, &result):
		return "history"
	default:
		return "other"
	}
}

// UserMessage turns an error into the short text shown on the page.
func UserMessage(err error) string {
	var (
		notFound *workflow.NotFoundError
		submit   *comfy.SubmitError
		timeout  *RetrievalTimeoutError
		exec     *ExecutionError
		result   *comfy.ResultError
		invalid  *InvalidRequestError
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("Workflow template %q is missing or invalid", notFound.Name)
	case errors.As(err, &submit):
		return "Engine rejected the job: " + submit.Message
	case comfy.IsConnectivity(err):
		return "Cannot reach the engine. Is ComfyUI running?"
	case errors.As(err, &timeout):
		return "Timed out waiting for the result"
	case errors.As(err, &exec) && exec.NodeID == "":
		return "Engine failed: " + exec.Message
	case errors.As(err, &exec):
		return fmt.Sprintf("Engine failed at node %s: %s", exec.NodeID, exec.Message)
	case errors.As(err, &result):
		return fmt.Sprintf("Could not read the result (status %d)", result.Status)
	case errors.As(err, &invalid):
		return "Invalid request: " + invalid.Err.Error()
	case errors.Is(err, ErrBusy):
		return "A generation is already running"
	default:
		return "Generation failed: " + err.Error()
	}
}
