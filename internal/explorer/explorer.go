package explorer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"

	"github.com/polzovatel/web-state-crawler/internal/snapshot"
)

// Config carries every tunable the driver uses. It is built once by the
// caller and never read from the environment inside the loop.
type Config struct {
	MaxSteps            int
	MaxStates           int
	ActionTryLimit      int
	MaxPlanActions      int
	SettleDelay         time.Duration
	FallbackSettleDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 200
	}
	if c.MaxStates <= 0 {
		c.MaxStates = 200
	}
	if c.ActionTryLimit <= 0 {
		c.ActionTryLimit = 3
	}
	if c.MaxPlanActions <= 0 {
		c.MaxPlanActions = 3
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 800 * time.Millisecond
	}
	if c.FallbackSettleDelay <= 0 {
		c.FallbackSettleDelay = 600 * time.Millisecond
	}
	return c
}

// ObserveFunc produces a fresh observation of the live view. The driver
// calls it at the top of every iteration and immediately after a successful
// planned action; an error from it is fatal to the run.
type ObserveFunc func(ctx context.Context) (snapshot.Observation, error)

// Report aggregates what a run discovered.
type Report struct {
	States       int
	Steps        int
	Interactions int
	Transitions  []Transition
}

// Explorer drives the observe/plan/act loop over a single exclusively-owned
// automation session. It is strictly sequential: one observation, one plan
// round and one action in flight at any time.
type Explorer struct {
	cfg      Config
	planner  Planner
	executor Executor
	observe  ObserveFunc
	rng      *rand.Rand
	logger   zerolog.Logger

	memory      *StateMemory
	visited     mapset.Set[string]
	transitions []Transition
}

// New wires a driver. The random source feeds fallback selection only and is
// injected so runs are reproducible under test.
func New(cfg Config, planner Planner, executor Executor, observe ObserveFunc, rng *rand.Rand, logger zerolog.Logger) *Explorer {
	return &Explorer{
		cfg:      cfg.withDefaults(),
		planner:  planner,
		executor: executor,
		observe:  observe,
		rng:      rng,
		logger:   logger,
		memory:   NewStateMemory(),
		visited:  mapset.NewSet[string](),
	}
}

// Run explores until a terminal condition: step budget spent, state cap
// reached, or no unattempted clickable left in the current state. All three
// are graceful; only observation failure returns an error, and even then the
// partial report is valid.
func (e *Explorer) Run(ctx context.Context) (Report, error) {
	steps := 0
	for step := 1; step <= e.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return e.report(steps), err
		}

		obs, err := e.observe(ctx)
		if err != nil {
			return e.report(steps), fmt.Errorf("observe: %w", err)
		}
		steps = step
		fp := obs.Fingerprint
		attempted := e.memory.Attempted(fp)

		isNew := !e.visited.Contains(fp)
		if isNew {
			e.visited.Add(fp)
		}
		e.logger.Info().
			Int("step", step).
			Bool("new_state", isNew).
			Str("state", short(fp)).
			Str("summary", obs.Snapshot.Summary()).
			Int("attempted", attempted.Cardinality()).
			Int("states", e.visited.Cardinality()).
			Msg("observed")
		if obs.ScreenshotHash != "" {
			e.logger.Debug().Str("screenshot", short(obs.ScreenshotHash)).Msg("perceptual signal")
		}

		acted, err := e.act(ctx, fp, obs.Snapshot, attempted)
		if err != nil {
			return e.report(steps), err
		}
		if !acted {
			if done := e.fallback(ctx, fp, obs.Snapshot, attempted); done {
				e.logger.Info().Str("state", short(fp)).Msg("no unattempted clickable elements left, stopping")
				break
			}
		}

		if e.visited.Cardinality() >= e.cfg.MaxStates {
			e.logger.Info().Int("states", e.visited.Cardinality()).Msg("state cap reached, stopping")
			break
		}
	}
	return e.report(steps), nil
}

// act walks the planned batch in order, retrying each action up to the try
// limit. The first success records memory, settles, re-observes and appends
// a transition; only one action may succeed per iteration. A planned action
// that exhausts its retries has its target marked attempted so neither the
// planner bias nor the fallback keeps re-picking a dead element.
func (e *Explorer) act(ctx context.Context, fp string, snap snapshot.Snapshot, attempted mapset.Set[int]) (bool, error) {
	actions := e.planner.Plan(ctx, snap, attempted)
	if len(actions) > e.cfg.MaxPlanActions {
		actions = actions[:e.cfg.MaxPlanActions]
	}

	for _, action := range actions {
		e.logger.Info().
			Str("type", action.Type).
			Interface("target_id", action.TargetID).
			Str("rationale", action.Rationale).
			Float64("confidence", action.Confidence).
			Msg("planned action")

		var out Outcome
		for try := 1; try <= e.cfg.ActionTryLimit; try++ {
			out = e.executor.Execute(ctx, action)
			if out.OK {
				break
			}
			e.logger.Warn().
				Int("try", try).
				Str("type", action.Type).
				Str("reason", out.Reason).
				Msg("action attempt failed")
			if structuralFailure(out.Reason) {
				break
			}
		}
		if !out.OK {
			if action.TargetID != nil {
				e.memory.Record(fp, *action.TargetID)
			}
			continue
		}

		if action.TargetID != nil {
			e.memory.Record(fp, *action.TargetID)
		}
		e.sleep(ctx, e.cfg.SettleDelay)
		next, err := e.observe(ctx)
		if err != nil {
			return false, fmt.Errorf("observe after action: %w", err)
		}
		e.transitions = append(e.transitions, Transition{From: fp, To: next.Fingerprint, Action: action})
		e.logger.Info().
			Str("from", short(fp)).
			Str("to", short(next.Fingerprint)).
			Str("type", action.Type).
			Msg("transition recorded")
		return true, nil
	}
	return false, nil
}

// fallback picks one unattempted clickable uniformly at random and clicks
// it. Returns true when the pool is empty, which terminates the run. The
// chosen id is recorded whether or not the click lands, so the pool shrinks
// every time fallback runs.
func (e *Explorer) fallback(ctx context.Context, fp string, snap snapshot.Snapshot, attempted mapset.Set[int]) bool {
	var pool []int
	for _, c := range snap.Clickables {
		if !attempted.Contains(c.ID) {
			pool = append(pool, c.ID)
		}
	}
	if len(pool) == 0 {
		return true
	}

	chosen := pool[e.rng.Intn(len(pool))]
	e.logger.Info().Int("target_id", chosen).Int("pool", len(pool)).Msg("fallback: random unattempted click")

	out := e.executor.Execute(ctx, Action{Type: ActionClick, TargetID: target(chosen), Rationale: "fallback_random"})
	e.memory.Record(fp, chosen)
	if out.OK {
		e.sleep(ctx, e.cfg.FallbackSettleDelay)
	} else {
		e.logger.Warn().Int("target_id", chosen).Str("reason", out.Reason).Msg("fallback click failed")
	}
	return false
}

func (e *Explorer) report(steps int) Report {
	return Report{
		States:       e.visited.Cardinality(),
		Steps:        steps,
		Interactions: e.memory.Interactions(),
		Transitions:  append([]Transition(nil), e.transitions...),
	}
}

func (e *Explorer) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// structuralFailure reports reasons that cannot change between attempts, so
// retrying them is pointless.
func structuralFailure(reason string) bool {
	return reason == "noop" || reason == "no_target_id"
}

func short(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}
