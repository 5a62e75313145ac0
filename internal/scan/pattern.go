package scan

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"pathfinder/internal/templatefmt"
)

// Pattern is one marker regex, optionally parameterized by {{.name}} placeholders.
// Params: raw pattern text; placeholder values are regex-quoted on expansion.
// Returns: reusable pattern compiled per scan when parameterized.
type Pattern struct {
	raw   string
	tmpl  *template.Template
	fixed *regexp.Regexp
}

// NewPattern prepares one marker pattern.
// Params: raw regex text.
// Returns: pattern or parse/compile error.
func NewPattern(raw string) (Pattern, error) {
	if strings.Contains(raw, "{{") {
		tmpl, err := templatefmt.ParseNarrativeTemplate("marker", raw)
		if err != nil {
			return Pattern{}, fmt.Errorf("parse marker %q: %w", raw, err)
		}
		return Pattern{raw: raw, tmpl: tmpl}, nil
	}
	compiled, err := regexp.Compile(raw)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile marker %q: %w", raw, err)
	}
	return Pattern{raw: raw, fixed: compiled}, nil
}

// MustPattern is NewPattern that panics on error; intended for tests and static tables.
func MustPattern(raw string) Pattern {
	pattern, err := NewPattern(raw)
	if err != nil {
		panic(err)
	}
	return pattern
}

// String returns raw pattern text.
func (p Pattern) String() string {
	return p.raw
}

// Compile resolves placeholders and compiles the regex.
// Params: placeholder values (quoted with regexp.QuoteMeta before substitution).
// Returns: compiled regex or error when a placeholder is missing or empty.
func (p Pattern) Compile(vars map[string]string) (*regexp.Regexp, error) {
	if p.fixed != nil {
		return p.fixed, nil
	}
	quoted := make(map[string]string, len(vars))
	for key, value := range vars {
		quoted[key] = regexp.QuoteMeta(value)
	}
	for _, name := range templatefmt.Placeholders(p.tmpl) {
		if strings.TrimSpace(vars[name]) == "" {
			return nil, fmt.Errorf("marker %q needs value for %q", p.raw, name)
		}
	}
	var b strings.Builder
	if err := p.tmpl.Execute(&b, quoted); err != nil {
		return nil, fmt.Errorf("expand marker %q: %w", p.raw, err)
	}
	compiled, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile marker %q: %w", p.raw, err)
	}
	return compiled, nil
}

// compileAll compiles a pattern list.
func compileAll(patterns []Pattern, vars map[string]string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled, err := pattern.Compile(vars)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}
