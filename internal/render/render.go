package render

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"pathfinder/internal/config"
	"pathfinder/internal/domain"
	"pathfinder/internal/templatefmt"
)

// Defaults resolves registered slot defaults.
// Params: slot name.
// Returns: default text; Unknown returns the unknown sentinel.
type Defaults interface {
	SlotDefault(name string) string
	Unknown() string
}

type fragment struct {
	when   string
	bodies map[domain.Language]*template.Template
}

type compiledTemplate struct {
	name         string
	sections     map[domain.Language]map[string]*template.Template
	fragments    []fragment
	separators   map[domain.Language]string
	placeholders []string
}

// Renderer renders bilingual narratives from compiled templates.
// Params: templates keyed by name, slot defaults.
// Returns: read-only renderer safe for concurrent use.
type Renderer struct {
	templates map[string]*compiledTemplate
	defaults  Defaults
}

// New compiles every template body.
// Params: validated config and default resolver.
// Returns: renderer or parse error.
func New(cfg config.Config, defaults Defaults) (*Renderer, error) {
	renderer := &Renderer{
		templates: make(map[string]*compiledTemplate, len(cfg.Template)),
		defaults:  defaults,
	}
	for _, tmplCfg := range cfg.Template {
		compiled, err := compileTemplate(tmplCfg)
		if err != nil {
			return nil, fmt.Errorf("template.%s: %w", tmplCfg.Name, err)
		}
		renderer.templates[tmplCfg.Name] = compiled
	}
	return renderer, nil
}

// compileTemplate parses non-empty sections and fragments of one template.
func compileTemplate(cfg config.TemplateConfig) (*compiledTemplate, error) {
	compiled := &compiledTemplate{
		name:     cfg.Name,
		sections: make(map[domain.Language]map[string]*template.Template, 2),
		separators: map[domain.Language]string{
			domain.LanguageZH: cfg.SeparatorZH,
			domain.LanguageEN: cfg.SeparatorEN,
		},
	}
	seen := make(map[string]struct{})
	for _, lang := range domain.Languages {
		compiled.sections[lang] = make(map[string]*template.Template, 3)
		for section, body := range cfg.Section(string(lang)).Bodies() {
			if strings.TrimSpace(body) == "" {
				continue
			}
			tmpl, err := templatefmt.ParseNarrativeTemplate(string(lang)+"."+section, body)
			if err != nil {
				return nil, err
			}
			for _, name := range templatefmt.Placeholders(tmpl) {
				seen[name] = struct{}{}
			}
			compiled.sections[lang][section] = tmpl
		}
	}
	for _, fragmentCfg := range cfg.Fragments {
		item := fragment{when: fragmentCfg.When, bodies: make(map[domain.Language]*template.Template, 2)}
		for _, lang := range domain.Languages {
			body := fragmentCfg.Body(string(lang))
			if strings.TrimSpace(body) == "" {
				continue
			}
			tmpl, err := templatefmt.ParseNarrativeTemplate("fragment."+fragmentCfg.Name+"."+string(lang), body)
			if err != nil {
				return nil, err
			}
			for _, name := range templatefmt.Placeholders(tmpl) {
				seen[name] = struct{}{}
			}
			item.bodies[lang] = tmpl
		}
		compiled.fragments = append(compiled.fragments, item)
	}
	for name := range seen {
		compiled.placeholders = append(compiled.placeholders, name)
	}
	return compiled, nil
}

// Has reports whether template exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render substitutes fields and window evidence into one language variant.
// Params: template name, fields, optional window, language.
// Returns: diagnosis text or error for unknown template/execution failure.
func (r *Renderer) Render(name string, fields domain.FieldSet, window *domain.ContextWindow, lang domain.Language) (domain.Diagnosis, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return domain.Diagnosis{}, fmt.Errorf("unknown template %q", name)
	}
	if lang != domain.LanguageEN {
		lang = domain.LanguageZH
	}

	data := r.data(tmpl, fields, window)
	fragments, err := r.fragments(tmpl, fields, data, lang)
	if err != nil {
		return domain.Diagnosis{}, err
	}
	data["fragments"] = fragments

	var out domain.Diagnosis
	for section, body := range tmpl.sections[lang] {
		var b strings.Builder
		if err := body.Execute(&b, data); err != nil {
			return domain.Diagnosis{}, fmt.Errorf("render template.%s.%s.%s: %w", name, lang, section, err)
		}
		text := strings.TrimSpace(b.String())
		switch section {
		case "meaning":
			out.Meaning = text
		case "indicator":
			out.Indicator = text
		case "suggestion":
			out.Suggestion = text
		}
	}
	return out, nil
}

// RenderBoth renders zh and en from the same inputs.
// Params: template name, fields, optional window.
// Returns: bilingual diagnosis or first render error.
func (r *Renderer) RenderBoth(name string, fields domain.FieldSet, window *domain.ContextWindow) (domain.Bilingual, error) {
	zh, err := r.Render(name, fields, window, domain.LanguageZH)
	if err != nil {
		return domain.Bilingual{}, err
	}
	en, err := r.Render(name, fields, window, domain.LanguageEN)
	if err != nil {
		return domain.Bilingual{}, err
	}
	return domain.Bilingual{ZH: zh, EN: en}, nil
}

// data builds the template data map: defaults, then fields, then window built-ins.
func (r *Renderer) data(tmpl *compiledTemplate, fields domain.FieldSet, window *domain.ContextWindow) map[string]any {
	data := make(map[string]any, len(tmpl.placeholders)+len(fields)+6)
	for _, name := range tmpl.placeholders {
		if config.IsBuiltin(name) {
			data[name] = ""
			continue
		}
		data[name] = r.defaults.SlotDefault(name)
	}
	for key, value := range fields {
		data[key] = value
	}

	data["interest"] = ""
	data["interest_lines"] = []string(nil)
	data["window_start"] = ""
	if !window.Empty() {
		data["interest"] = window.JoinedInterest()
		data["interest_lines"] = window.InterestTexts()
		data["window_start"] = strconv.Itoa(window.Start())
		data["policy"] = window.Policy
	}
	if _, ok := data["policy"]; !ok {
		data["policy"] = ""
	}
	return data
}

// fragments renders enabled fragments in order and joins them.
// Params: template, fields, data map, language.
// Returns: joined fragment text.
func (r *Renderer) fragments(tmpl *compiledTemplate, fields domain.FieldSet, data map[string]any, lang domain.Language) (string, error) {
	var parts []string
	for _, item := range tmpl.fragments {
		if !r.enabled(item.when, fields) {
			continue
		}
		body, ok := item.bodies[lang]
		if !ok {
			continue
		}
		var b strings.Builder
		if err := body.Execute(&b, data); err != nil {
			return "", fmt.Errorf("render template.%s fragment %q: %w", tmpl.name, item.when, err)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, tmpl.separators[lang]), nil
}

// enabled reports whether a fragment slot holds a non-default value.
func (r *Renderer) enabled(slot string, fields domain.FieldSet) bool {
	value := fields[slot]
	if value == "" || value == r.defaults.Unknown() {
		return false
	}
	return value != r.defaults.SlotDefault(slot)
}
