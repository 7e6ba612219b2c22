// Package pipeline drives a generation request through the model and
// the validation gates until the project passes or a repair budget runs
// out. The manifest is replaced wholesale on every model invocation;
// gates never patch files themselves.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appforge/internal/config"
	"appforge/internal/gemini"
	"appforge/internal/lint"
	"appforge/internal/logging"
	"appforge/internal/manifest"
	"appforge/internal/recovery"
	"appforge/internal/validate"
)

// Budget-exhaustion and control errors. Quality has no sentinel: its
// exhaustion degrades the result instead of failing it.
var (
	ErrStructureBudget = errors.New("structure repair budget exhausted")
	ErrSyntaxBudget    = errors.New("syntax repair budget exhausted")
	ErrLintBudget      = errors.New("lint repair budget exhausted")
	ErrCancelled       = errors.New("request cancelled")
)

// Backend is the generative model the pipeline drives.
type Backend interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string, attachments []gemini.Attachment) (string, error)
}

// ProgressFunc receives fire-and-forget progress lines.
type ProgressFunc func(msg string)

// CancelFunc reports whether the request was cancelled out of band. It
// is polled before start, after prompt construction, and after every
// model invocation; a model call already in flight is never aborted.
type CancelFunc func(requestID string) bool

// Request is one generation or edit job.
type Request struct {
	ID          string
	Prompt      string
	Attachments []gemini.Attachment
}

// RepairAttempt records the most recent repair invocation.
type RepairAttempt struct {
	Number int
	Issues []manifest.Issue
}

// Result is a completed pipeline run.
type Result struct {
	Files        []manifest.File
	Dependencies map[string]string
	LintReport   lint.Report
	Attempts     map[string]int
	LastRepair   *RepairAttempt
}

// Options carries the optional collaborators.
type Options struct {
	Linter    *lint.Runner // nil disables the lint gate
	Lookup    manifest.VersionLookup
	Progress  ProgressFunc
	Cancelled CancelFunc
}

// Pipeline owns one configured generation flow. Safe for sequential
// reuse; one run at a time.
type Pipeline struct {
	backend Backend
	cfg     *config.Config
	engine  *recovery.Engine
	syntax  *validate.SyntaxChecker
	quality *validate.QualityAuditor
	opts    Options
}

// New assembles a pipeline around the backend.
func New(backend Backend, cfg *config.Config, opts Options) *Pipeline {
	return &Pipeline{
		backend: backend,
		cfg:     cfg,
		engine:  recovery.NewEngine(),
		syntax:  validate.NewSyntaxChecker(),
		quality: validate.NewQualityAuditor(),
		opts:    opts,
	}
}

// Generate builds a new project from a natural-language prompt.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	if p.isCancelled(req.ID) {
		return nil, ErrCancelled
	}
	p.report("building generation prompt")
	userPrompt := buildGeneratePrompt(req.Prompt)
	if p.isCancelled(req.ID) {
		return nil, ErrCancelled
	}
	return p.run(ctx, req, userPrompt, nil)
}

// Edit regenerates an existing project against a change request. The
// existing dependency map seeds reconciliation so pinned versions
// survive the edit.
func (p *Pipeline) Edit(ctx context.Context, existing *manifest.Manifest, req Request) (*Result, error) {
	if p.isCancelled(req.ID) {
		return nil, ErrCancelled
	}
	p.report("building edit prompt")
	userPrompt := buildEditPrompt(existing, req.Prompt)
	if p.isCancelled(req.ID) {
		return nil, ErrCancelled
	}
	return p.run(ctx, req, userPrompt, existing.Dependencies)
}

func (p *Pipeline) run(ctx context.Context, req Request, userPrompt string, baseDeps map[string]string) (*Result, error) {
	attempts := map[string]int{}

	m, err := p.generate(ctx, req, userPrompt, baseDeps, attempts)
	if err != nil {
		return nil, err
	}

	var lastRepair *RepairAttempt
	var lintIssues []manifest.Issue
	repairCount := 0

	for _, g := range p.gates() {
		for try := 0; ; try++ {
			issues, err := g.check(ctx, m)
			if err != nil {
				return nil, err
			}
			if g.name == gateLint {
				lintIssues = issues
			}
			gating := issues
			if g.errorsOnly {
				gating = manifest.ErrorsOnly(issues)
			}
			if len(gating) == 0 {
				break
			}
			if try >= g.budget {
				if g.exhausted != nil {
					logging.PipelineError("%s gate: %d issues after %d repairs", g.name, len(gating), g.budget)
					return nil, fmt.Errorf("%w: %d issues remain", g.exhausted, len(gating))
				}
				logging.PipelineWarn("%s gate: budget exhausted, shipping with %d open issues", g.name, len(gating))
				break
			}

			repairCount++
			attempts[g.name]++
			lastRepair = &RepairAttempt{Number: repairCount, Issues: gating}
			p.report(fmt.Sprintf("repairing %s issues (attempt %d)", g.name, try+1))
			logging.Pipeline("%s gate: repair %d for %d issues", g.name, try+1, len(gating))

			repaired, rerr := p.repair(ctx, req, m, gating, baseDeps)
			switch {
			case rerr == nil:
				m = repaired
			case errors.Is(rerr, gemini.ErrRateLimited), errors.Is(rerr, ErrCancelled):
				return nil, rerr
			case errors.Is(rerr, gemini.ErrOverloaded):
				if err := p.backoff(ctx, try); err != nil {
					return nil, err
				}
			default:
				// Unusable repair response; the old manifest stands and
				// the retry consumed budget.
				logging.PipelineWarn("%s gate: repair attempt failed: %v", g.name, rerr)
			}
		}
	}

	p.report("pipeline complete")
	return &Result{
		Files:        m.Files,
		Dependencies: m.Dependencies,
		LintReport:   lint.BuildReport(lintIssues),
		Attempts:     attempts,
		LastRepair:   lastRepair,
	}, nil
}

// generate runs the outer generation loop: invoke, decode, shape. Parse
// exhaustion and fatal shape errors burn a generation attempt; an
// overloaded backend burns one after its backoff.
func (p *Pipeline) generate(ctx context.Context, req Request, userPrompt string, baseDeps map[string]string, attempts map[string]int) (*manifest.Manifest, error) {
	budget := p.cfg.Budgets.Generation
	if budget < 1 {
		budget = 1
	}

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		attempts["generation"]++
		p.report(fmt.Sprintf("generating (attempt %d/%d)", attempt, budget))

		raw, err := p.invoke(ctx, req, userPrompt)
		if err != nil {
			switch {
			case errors.Is(err, gemini.ErrRateLimited), errors.Is(err, ErrCancelled):
				return nil, err
			case errors.Is(err, gemini.ErrOverloaded):
				lastErr = err
				if berr := p.backoff(ctx, attempt-1); berr != nil {
					return nil, berr
				}
			default:
				lastErr = err
			}
			continue
		}

		m, err := p.prepare(ctx, raw, baseDeps)
		if err != nil {
			logging.PipelineWarn("generation attempt %d unusable: %v", attempt, err)
			lastErr = err
			continue
		}
		return m, nil
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", budget, lastErr)
}

// repair sends one repair invocation and prepares its replacement
// manifest. Cancellation is polled between prompt construction and the
// backend call so a cancel landing between attempts never costs another
// model invocation.
func (p *Pipeline) repair(ctx context.Context, req Request, m *manifest.Manifest, issues []manifest.Issue, baseDeps map[string]string) (*manifest.Manifest, error) {
	prompt := buildRepairPrompt(m, issues)
	if p.isCancelled(req.ID) {
		return nil, ErrCancelled
	}
	raw, err := p.invoke(ctx, req, prompt)
	if err != nil {
		return nil, err
	}
	return p.prepare(ctx, raw, baseDeps)
}

// invoke calls the backend and polls cancellation afterwards.
func (p *Pipeline) invoke(ctx context.Context, req Request, userPrompt string) (string, error) {
	raw, err := p.backend.CompleteWithSystem(ctx, systemPrompt, userPrompt, req.Attachments)
	if p.isCancelled(req.ID) {
		return "", ErrCancelled
	}
	return raw, err
}

// prepare turns one raw response into a validated, augmented,
// dependency-reconciled manifest. Fatal shape problems surface as
// errors; missing required files are left for the structure gate.
func (p *Pipeline) prepare(ctx context.Context, raw string, baseDeps map[string]string) (*manifest.Manifest, error) {
	decoded, err := p.engine.Decode(raw)
	if err != nil {
		return nil, err
	}

	res := manifest.ValidateShape(decoded, manifest.ShapeLimits{
		MaxFiles:     p.cfg.Limits.MaxFiles,
		MaxFileBytes: p.cfg.Limits.MaxFileBytes,
	})
	if res.Fatal != nil {
		return nil, res.Fatal
	}

	m := manifest.Augment(res.Manifest)

	deps := m.Dependencies
	if len(baseDeps) > 0 {
		merged := make(map[string]string, len(baseDeps)+len(deps))
		for k, v := range baseDeps {
			merged[k] = v
		}
		for k, v := range deps {
			merged[k] = v
		}
		deps = merged
	}
	m.Dependencies = manifest.ReconcileDependencies(ctx, m.Files, deps, p.opts.Lookup)
	return m, nil
}

const gateLint = "lint"

type gate struct {
	name       string
	budget     int
	exhausted  error // nil means the gate degrades instead of failing
	errorsOnly bool
	check      func(ctx context.Context, m *manifest.Manifest) ([]manifest.Issue, error)
}

// gates returns the ordered gate table. Order is load-bearing: cheap
// deterministic checks run before the ones that cost a network hop.
func (p *Pipeline) gates() []gate {
	list := []gate{
		{
			name:      "structure",
			budget:    p.cfg.Budgets.Structure,
			exhausted: ErrStructureBudget,
			check: func(_ context.Context, m *manifest.Manifest) ([]manifest.Issue, error) {
				return manifest.MissingRequired(m), nil
			},
		},
		{
			name:      "syntax",
			budget:    p.cfg.Budgets.Syntax,
			exhausted: ErrSyntaxBudget,
			check: func(ctx context.Context, m *manifest.Manifest) ([]manifest.Issue, error) {
				return p.syntax.Check(ctx, m), nil
			},
		},
		{
			name:   "quality",
			budget: p.cfg.Budgets.Quality,
			check: func(_ context.Context, m *manifest.Manifest) ([]manifest.Issue, error) {
				return p.quality.Audit(m), nil
			},
		},
	}
	if p.opts.Linter != nil {
		list = append(list, gate{
			name:       gateLint,
			budget:     p.cfg.Budgets.Lint,
			exhausted:  ErrLintBudget,
			errorsOnly: true,
			check: func(ctx context.Context, m *manifest.Manifest) ([]manifest.Issue, error) {
				return p.opts.Linter.Run(ctx, m)
			},
		})
	}
	return list
}

// maxBackoff caps the exponential wait for an overloaded backend.
const maxBackoff = 30 * time.Second

// backoff sleeps base<<n, capped, honoring context cancellation.
func (p *Pipeline) backoff(ctx context.Context, n int) error {
	d := p.cfg.BackoffBase()
	if n > 0 {
		d <<= uint(n)
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	logging.Pipeline("backend overloaded, backing off %v", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pipeline) report(msg string) {
	if p.opts.Progress != nil {
		p.opts.Progress(msg)
	}
}

func (p *Pipeline) isCancelled(id string) bool {
	if p.opts.Cancelled == nil || id == "" {
		return false
	}
	if p.opts.Cancelled(id) {
		logging.Pipeline("request %s cancelled", id)
		return true
	}
	return false
}
