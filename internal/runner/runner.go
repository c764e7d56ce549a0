// File: internal/runner/runner.go
package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/pkg/driver"
	"github.com/xkilldash9x/forceps/pkg/resilience"
	"github.com/xkilldash9x/forceps/pkg/textnorm"
)

const (
	// defaultStepTimeout is the hard wall clock bound on a single step when
	// runner.step_timeout is unset.
	defaultStepTimeout = 2 * time.Minute
	// waitProbeBudget bounds each single resolution inside a wait_text poll
	// so the waiter keeps control of the overall pacing.
	waitProbeBudget = 1 * time.Second
	// persistTimeout bounds the run archive write after a scenario ends.
	persistTimeout = 10 * time.Second
)

// RunArchiver persists finished runs. *store.Store satisfies it. A nil
// archiver disables persistence; callers holding a typed nil must pass a
// literal nil instead.
type RunArchiver interface {
	SaveRun(ctx context.Context, run *schemas.RunRecord) error
}

// Runner drives scenarios through an engine with the resilience layer between
// every step and the page. One Runner serves any number of concurrent
// scenarios; each scenario opens its own pages and shares nothing but the
// engine and the standing components.
type Runner struct {
	engine      driver.Engine
	archive     RunArchiver
	resolver    *driver.Resolver
	extractor   *driver.Extractor
	optional    *driver.OptionalHandler
	retrier     *resilience.Retrier
	waiter      *resilience.Waiter
	waitCfg     config.WaitConfig
	stepTimeout time.Duration
	engineKind  string
	failFast    bool
	logger      *zap.Logger
}

// New assembles a Runner from the standing configuration. The archiver may be
// nil, in which case finished runs are not persisted.
func New(cfg config.Interface, eng driver.Engine, archive RunArchiver, logger *zap.Logger) (*Runner, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: an engine is required", schemas.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver := driver.NewResolver(cfg.Locate(), logger)
	retrier, err := resilience.NewRetrier(cfg.Retry(), nil, logger)
	if err != nil {
		return nil, fmt.Errorf("build retrier: %w", err)
	}

	stepTimeout := cfg.Runner().StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	waitCfg := cfg.Wait()
	if waitCfg.Timeout <= 0 {
		waitCfg.Timeout = resilience.DefaultWaitTimeout
	}
	if waitCfg.PollInterval <= 0 {
		waitCfg.PollInterval = resilience.DefaultPollInterval
	}

	return &Runner{
		engine:      eng,
		archive:     archive,
		resolver:    resolver,
		extractor:   driver.NewExtractor(resolver, logger),
		optional:    driver.NewOptionalHandler(resolver, logger),
		retrier:     retrier,
		waiter:      resilience.NewWaiter(logger),
		waitCfg:     waitCfg,
		stepTimeout: stepTimeout,
		engineKind:  cfg.Engine().Kind,
		failFast:    cfg.Run().FailFast,
		logger:      logger.Named("runner"),
	}, nil
}

// RunScenario executes one scenario and returns its record. The record always
// comes back non-nil: failures are verdicts, not errors. A required step that
// fails ends the run as failed, unless the caller's context died, which ends
// it as aborted. Optional step failures are recorded but do not sink the run.
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) *schemas.RunRecord {
	rec := &schemas.RunRecord{
		ID:        uuid.NewString(),
		Scenario:  sc.Name,
		Target:    sc.Target,
		Engine:    r.engineKind,
		StartedAt: time.Now().UTC(),
		Status:    schemas.RunPassed,
	}
	log := r.logger.With(zap.String("run_id", rec.ID), zap.String("scenario", sc.Name))

	if err := sc.Validate(); err != nil {
		rec.Status = schemas.RunFailed
		rec.Steps = append(rec.Steps, schemas.StepRecord{
			Name:    "validate scenario",
			Outcome: string(schemas.OutcomeFailed),
			Error:   err.Error(),
		})
		rec.Elapsed = time.Since(rec.StartedAt)
		log.Warn("scenario rejected", zap.Error(err))
		r.persist(ctx, rec, log)
		return rec
	}

	log.Info("scenario started", zap.String("target", sc.Target), zap.Int("steps", len(sc.Steps)))

	var page driver.Page
	for _, st := range sc.Steps {
		stepRec := r.runStep(ctx, sc, st, &page, log)
		rec.Steps = append(rec.Steps, stepRec)
		if stepRec.Outcome == string(schemas.OutcomeFailed) && !st.Optional {
			if ctx.Err() != nil {
				rec.Status = schemas.RunAborted
			} else {
				rec.Status = schemas.RunFailed
			}
			break
		}
	}
	rec.Elapsed = time.Since(rec.StartedAt)

	log.Info("scenario finished",
		zap.String("status", string(rec.Status)),
		zap.Duration("elapsed", rec.Elapsed),
		zap.Int("steps", len(rec.Steps)))

	r.persist(ctx, rec, log)
	return rec
}

// RunAll executes scenarios with at most concurrency of them in flight.
// Records come back in scenario order, one per scenario, regardless of
// verdicts; the error reports only caller cancellation. With fail fast
// enabled, scenarios not yet started when a run fails are recorded as aborted
// with no steps.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario, concurrency int) ([]*schemas.RunRecord, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("%w: no scenarios to run", schemas.ErrInvalidArgument)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	records := make([]*schemas.RunRecord, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var failed atomic.Bool
	for i, sc := range scenarios {
		g.Go(func() error {
			if r.failFast && failed.Load() {
				records[i] = r.abortedRecord(sc)
				return nil
			}
			records[i] = r.RunScenario(gctx, sc)
			if records[i].Status == schemas.RunFailed {
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return records, ctx.Err()
}

// abortedRecord stands in for a scenario that never started.
func (r *Runner) abortedRecord(sc Scenario) *schemas.RunRecord {
	return &schemas.RunRecord{
		ID:        uuid.NewString(),
		Scenario:  sc.Name,
		Target:    sc.Target,
		Engine:    r.engineKind,
		StartedAt: time.Now().UTC(),
		Status:    schemas.RunAborted,
	}
}

func (r *Runner) runStep(ctx context.Context, sc Scenario, st Step, page *driver.Page, log *zap.Logger) schemas.StepRecord {
	rec := schemas.StepRecord{
		Name:     st.Name,
		Action:   string(st.Action),
		Optional: st.Optional,
		Outcome:  string(schemas.OutcomePerformed),
	}
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	if st.Optional {
		r.runOptionalStep(stepCtx, st, page, &rec)
	} else {
		attempts := 0
		op := r.stepOp(sc, st, page, &rec)
		err := r.retrier.Wrap(func(c context.Context) error {
			attempts++
			return op(c)
		})(stepCtx)
		rec.Attempts = attempts
		if err != nil {
			rec.Outcome = string(schemas.OutcomeFailed)
			rec.Error = err.Error()
		}
	}
	rec.Elapsed = time.Since(start)

	switch rec.Outcome {
	case string(schemas.OutcomeSkippedAbsent):
		log.Info("optional step skipped, element absent", zap.String("step", st.Name))
	case string(schemas.OutcomeFailed):
		log.Warn("step failed",
			zap.String("step", st.Name),
			zap.String("action", string(st.Action)),
			zap.Bool("optional", st.Optional),
			zap.Int("attempts", rec.Attempts),
			zap.String("error", rec.Error))
	default:
		log.Debug("step performed",
			zap.String("step", st.Name),
			zap.String("action", string(st.Action)),
			zap.Int("attempts", rec.Attempts),
			zap.Duration("elapsed", rec.Elapsed),
			zap.String("detail", rec.Detail))
	}
	return rec
}

// runOptionalStep routes an optional interaction through the OptionalHandler.
// Absence is a skip; only a present-but-broken element yields a failed
// outcome, and even that does not end the run.
func (r *Runner) runOptionalStep(ctx context.Context, st Step, page *driver.Page, rec *schemas.StepRecord) {
	rec.Attempts = 1
	if *page == nil {
		rec.Outcome = string(schemas.OutcomeFailed)
		rec.Error = "no page is open; the scenario must navigate first"
		return
	}

	var res driver.InteractionResult
	switch st.Action {
	case ActionClick:
		res = r.optional.TryClick(ctx, *page, st.Locators)
	case ActionFill:
		res = r.optional.TryFill(ctx, *page, st.Locators, st.Value)
	case ActionDismiss:
		res = r.optional.TryDismiss(ctx, *page, st.Locators)
	default:
		rec.Outcome = string(schemas.OutcomeFailed)
		rec.Error = fmt.Sprintf("action %s cannot be optional", st.Action)
		return
	}

	rec.Outcome = string(res.Outcome)
	if res.Matched.Strategy != "" {
		rec.Detail = res.Matched.String()
	}
	if res.Reason != nil {
		rec.Error = res.Reason.Error()
	}
}

// stepOp builds the retryable unit of work for a required step. Detail is
// only written on success, so a failed attempt never leaves half an answer in
// the record.
func (r *Runner) stepOp(sc Scenario, st Step, page *driver.Page, rec *schemas.StepRecord) resilience.Operation {
	if st.Action == ActionNavigate {
		return func(c context.Context) error {
			target := st.Value
			if target == "" {
				target = sc.Target
			}
			p, err := r.engine.Open(c, target)
			if err != nil {
				return err
			}
			*page = p
			rec.Detail = p.URL()
			return nil
		}
	}

	return func(c context.Context) error {
		p := *page
		if p == nil {
			return fmt.Errorf("%w: step %q ran before any navigation", schemas.ErrInvalidArgument, st.Name)
		}

		switch st.Action {
		case ActionClick, ActionFill, ActionDismiss:
			el, d, err := r.resolver.ResolveWithin(c, p, st.Locators, st.Timeout)
			if err != nil {
				return err
			}
			if err := interact(c, el, st); err != nil {
				return fmt.Errorf("%s %s: %w", st.Action, d, err)
			}
			rec.Detail = d.String()
			return nil
		case ActionExtractText:
			ext, err := r.extractor.Text(c, p, st.Locators, st.Default, st.Timeout)
			if err != nil {
				return err
			}
			if !ext.Found {
				if st.Default == "" {
					return fmt.Errorf("%w: no candidate produced text and the step has no default", schemas.ErrNotFound)
				}
				rec.Detail = st.Default + " (default)"
				return nil
			}
			rec.Detail = ext.Value
			return nil
		case ActionExtractPrice:
			return r.extractPrice(c, p, st, rec)
		case ActionWaitText:
			return r.waitForText(c, p, st)
		default:
			return fmt.Errorf("%w: unknown action %q", schemas.ErrInvalidArgument, string(st.Action))
		}
	}
}

func interact(ctx context.Context, el driver.Element, st Step) error {
	switch st.Action {
	case ActionClick:
		return el.Click(ctx)
	case ActionFill:
		return el.Fill(ctx, st.Value)
	default:
		return el.Dismiss(ctx)
	}
}

func (r *Runner) extractPrice(ctx context.Context, page driver.Page, st Step, rec *schemas.StepRecord) error {
	def, hasDefault := 0.0, false
	if st.Default != "" {
		if v, ok := textnorm.CleanCurrency(st.Default); ok {
			def, hasDefault = v, true
		}
	}
	parse := func(text string) (float64, error) {
		v, ok := textnorm.ExtractPrice(text, st.Value)
		if !ok {
			return 0, fmt.Errorf("no price found in %q", textnorm.Truncate(text, 80))
		}
		return v, nil
	}

	ext, err := driver.Extract(ctx, r.extractor, page, st.Locators, parse, def, st.Timeout)
	if err != nil {
		return err
	}
	if !ext.Found {
		if !hasDefault {
			return fmt.Errorf("%w: no candidate produced a price and the step has no default", schemas.ErrNotFound)
		}
		rec.Detail = strconv.FormatFloat(ext.Value, 'f', 2, 64) + " (default)"
		return nil
	}
	rec.Detail = strconv.FormatFloat(ext.Value, 'f', 2, 64)
	return nil
}

// waitForText polls the locators until one resolves to text containing the
// step value. Matching ignores case and collapses whitespace, the same way
// text locators do.
func (r *Runner) waitForText(ctx context.Context, page driver.Page, st Step) error {
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = r.waitCfg.Timeout
	}
	spec := resilience.WaitSpec{
		What:         fmt.Sprintf("text %q", st.Value),
		Timeout:      timeout,
		PollInterval: r.waitCfg.PollInterval,
	}
	needle := strings.ToLower(textnorm.SanitizeText(st.Value))

	return r.waiter.Until(ctx, spec, func(c context.Context) (bool, error) {
		ext, err := r.extractor.Text(c, page, st.Locators, "", waitProbeBudget)
		if err != nil {
			return false, err
		}
		if !ext.Found {
			return false, nil
		}
		return strings.Contains(strings.ToLower(textnorm.SanitizeText(ext.Value)), needle), nil
	})
}

// persist archives the run when an archiver is configured. Runs are archived
// even when the caller's context is gone; an aborted run is still history.
func (r *Runner) persist(ctx context.Context, rec *schemas.RunRecord, log *zap.Logger) {
	if r.archive == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.archive.SaveRun(saveCtx, rec); err != nil {
		log.Warn("failed to archive run", zap.Error(err))
	}
}
