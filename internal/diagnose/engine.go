package diagnose

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"pathfinder/internal/classify"
	"pathfinder/internal/config"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/ingest"
	"pathfinder/internal/render"
	"pathfinder/internal/scan"

	"golang.org/x/sync/errgroup"
)

// LocateTarget asks the engine to find the failure line of the identifier itself.
const LocateTarget = -1

// Request is one identifier to diagnose, optionally with its test log.
// Params: raw identifier, optional family hint, log lines, zero-based failure line index, language.
// Returns: orchestrator input; a negative Target (LocateTarget) finds the failure line automatically.
type Request struct {
	Identifier string
	Family     string
	Lines      []domain.LogLine
	Target     int
	Language   domain.Language
}

// Engine sequences extraction, classification, scanning and rendering.
// Params: registry, classifier, renderer, and compiled scan policies built from one config snapshot.
// Returns: read-only orchestrator safe for concurrent use.
type Engine struct {
	logger     *slog.Logger
	registry   *engine.Registry
	classifier *classify.Classifier
	renderer   *render.Renderer
	policies   []scan.Policy
	language   domain.Language
	workers    int
}

// New builds every core component from a validated config snapshot.
// Params: config and optional logger.
// Returns: engine or compile error.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry, err := engine.NewRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build rule registry: %w", err)
	}
	classifier, err := classify.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	renderer, err := render.New(cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}
	policies, err := scan.CompilePolicies(cfg.Scan)
	if err != nil {
		return nil, fmt.Errorf("build scan policies: %w", err)
	}
	language, err := domain.ParseLanguage(cfg.Service.Language)
	if err != nil {
		return nil, err
	}
	return &Engine{
		logger:     logger,
		registry:   registry,
		classifier: classifier,
		renderer:   renderer,
		policies:   policies,
		language:   language,
		workers:    max(cfg.Service.Workers, 1),
	}, nil
}

// Registry exposes the compiled rule registry.
func (e *Engine) Registry() *engine.Registry {
	return e.registry
}

// Diagnose produces the combined result for one request.
// Params: request.
// Returns: result; malformed identifiers are flagged, never panicked on.
func (e *Engine) Diagnose(req Request) domain.Result {
	lang := req.Language
	if lang == "" {
		lang = e.language
	}

	id, err := domain.ParseIdentifier(req.Identifier)
	if err != nil {
		e.logger.Warn("malformed identifier", "identifier", req.Identifier, "error", err.Error())
		return domain.Result{
			Identifier: domain.Identifier{Raw: req.Identifier},
			Malformed:  true,
			Error:      err.Error(),
			Language:   lang,
		}
	}

	extraction := e.extract(id, req.Family)
	result := domain.Result{
		Identifier: id,
		Family:     extraction.Family,
		Rule:       extraction.Rule,
		Fields:     extraction.Fields,
		Fallback:   extraction.Fallback,
		Language:   lang,
	}

	fields, captured := e.inputFields(extraction)
	target := req.Target
	if len(req.Lines) > 0 {
		var failure domain.Failure
		var found bool
		if target < 0 {
			failure, found = ingest.FailureFor(req.Lines, id.Normalized)
			if found {
				target = failure.Index
			}
		} else if target < len(req.Lines) {
			failure, found = ingest.ParseFailure(req.Lines[target])
		}
		if found {
			result.Failure = &failure
			for key, value := range failure.Fields() {
				fields[key] = value
				captured[key] = true
			}
		}
	}
	if _, ok := fields["test_name"]; !ok {
		fields["test_name"] = id.Raw
	}

	input := classify.Input{
		Identifier: id,
		Family:     extraction.Family,
		Rule:       extraction.Rule,
		Fields:     fields,
		Captured:   captured,
	}
	decision := e.classifier.Classify(input)
	texts, err := e.renderer.RenderBoth(decision.Template, decision.Fields, nil)
	if err != nil {
		e.logger.Error("render failed", "identifier", id.Normalized, "template", decision.Template, "error", err.Error())
		result.Error = err.Error()
	}
	result.Template = decision.Template
	if decision.Fallback {
		result.Fallback = true
	}

	if len(req.Lines) > 0 && target >= 0 && target < len(req.Lines) {
		result.Target = target
		texts = e.withContext(&result, input, req.Lines, target, texts)
	}

	result.Texts = texts
	result.Diagnosis = texts.For(lang)
	e.logger.Debug("identifier diagnosed",
		"identifier", id.Normalized,
		"family", result.Family,
		"rule", result.Rule,
		"template", result.Template,
		"context_template", result.ContextTemplate,
		"fallback", result.Fallback,
	)
	return result
}

// withContext runs scan policies in order and overlays the first context-aware diagnosis.
// Params: result under construction, identifier-only input, log lines, failure index, stage-one texts.
// Returns: texts with indicator/suggestion replaced by the context diagnosis when one applies.
func (e *Engine) withContext(result *domain.Result, input classify.Input, lines []domain.LogLine, target int, texts domain.Bilingual) domain.Bilingual {
	vars := map[string]string(input.Fields)
	for _, policy := range e.policies {
		window := scan.Scan(lines, target, policy, vars, e.logger)
		if window.Empty() {
			continue
		}
		input.Window = &window
		decision := e.classifier.Classify(input)
		if decision.Fallback || !decision.UsesContext {
			continue
		}
		contextTexts, err := e.renderer.RenderBoth(decision.Template, decision.Fields, &window)
		if err != nil {
			e.logger.Warn("context render failed",
				"identifier", input.Identifier.Normalized,
				"policy", policy.Name,
				"template", decision.Template,
				"error", err.Error(),
			)
			continue
		}
		// meaning always describes the identifier, so it stays from the first stage
		contextTexts.ZH.Meaning = ""
		contextTexts.EN.Meaning = ""
		result.ContextTemplate = decision.Template
		result.Policy = policy.Name
		result.WindowStart = window.Start()
		result.Interest = window.InterestTexts()
		return texts.Overlay(contextTexts)
	}
	return texts
}

// extract resolves fields with an optional family hint and falls back to the default family.
func (e *Engine) extract(id domain.Identifier, family string) engine.Extraction {
	var (
		extraction engine.Extraction
		err        error
	)
	if family != "" {
		extraction, err = e.registry.Extract(id, family)
	} else {
		extraction, err = e.registry.ExtractAny(id)
	}
	if err != nil {
		e.logger.Info("identifier fell back to default family",
			"identifier", id.Normalized,
			"family_hint", family,
			"reason", err.Error(),
		)
		return e.registry.Fallback(id)
	}
	return extraction
}

// inputFields adds identifier built-ins to the extracted fields.
// Params: extraction.
// Returns: new field set and captured flags; the extraction itself is not modified.
func (e *Engine) inputFields(extraction engine.Extraction) (domain.FieldSet, map[string]bool) {
	fields := extraction.Fields.Clone()
	captured := make(map[string]bool, len(extraction.Captured)+4)
	for key, value := range extraction.Captured {
		captured[key] = value
	}
	builtins := map[string]string{
		"identifier": extraction.Identifier.Raw,
		"normalized": extraction.Identifier.Normalized,
		"family":     extraction.Family,
		"rule":       extraction.Rule,
	}
	for key, value := range builtins {
		if value == "" {
			continue
		}
		fields[key] = value
		captured[key] = true
	}
	return fields, captured
}

// DiagnoseBatch diagnoses independent requests with bounded parallelism.
// Params: context for cancellation and requests.
// Returns: results in request order, or the context error.
func (e *Engine) DiagnoseBatch(ctx context.Context, reqs []Request) ([]domain.Result, error) {
	results := make([]domain.Result, len(reqs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)
	for i := range reqs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = e.Diagnose(reqs[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
