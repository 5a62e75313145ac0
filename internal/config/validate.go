package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pathfinder/internal/templatefmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// validateConfig validates a normalized config snapshot.
// Params: config after applyDefaults.
// Returns: first validation error with dotted section path.
func validateConfig(cfg Config) error {
	if err := structValidator.Struct(cfg.Service); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	if err := structValidator.Struct(cfg.Report.NATS); err != nil {
		return fmt.Errorf("report.nats: %w", err)
	}
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if len(cfg.Family) == 0 {
		return errors.New("at least one family is required")
	}
	if len(cfg.Template) == 0 {
		return errors.New("at least one template is required")
	}
	if _, ok := cfg.FamilyByName(cfg.Service.DefaultFamily); !ok {
		return fmt.Errorf("service.default_family references unknown family %q", cfg.Service.DefaultFamily)
	}
	if _, ok := cfg.TemplateByName(cfg.Service.DefaultTemplate); !ok {
		return fmt.Errorf("service.default_template references unknown template %q", cfg.Service.DefaultTemplate)
	}

	declared := make(map[string]struct{})
	for name := range Builtins {
		declared[name] = struct{}{}
	}
	for name := range cfg.Defaults {
		declared[name] = struct{}{}
	}
	for _, family := range cfg.Family {
		if len(family.Rules) == 0 {
			return fmt.Errorf("family.%s must declare at least one rule", family.Name)
		}
		for name := range family.Defaults {
			declared[name] = struct{}{}
		}
		for _, rule := range family.Rules {
			slots, err := validateRule(rule)
			if err != nil {
				return fmt.Errorf("family.%s.rule.%s: %w", family.Name, rule.Name, err)
			}
			for _, slot := range slots {
				declared[slot] = struct{}{}
			}
		}
	}

	policies := make(map[string]struct{}, len(cfg.Scan))
	for _, policy := range cfg.Scan {
		groups, err := validateScanPolicy(policy, declared)
		if err != nil {
			return fmt.Errorf("scan.%s: %w", policy.Name, err)
		}
		for _, group := range groups {
			declared[group] = struct{}{}
		}
		policies[policy.Name] = struct{}{}
	}

	templates := make(map[string]TemplateConfig, len(cfg.Template))
	for _, tmpl := range cfg.Template {
		templates[tmpl.Name] = tmpl
	}
	for _, selector := range cfg.Selector {
		groups, err := validateSelector(cfg, selector, templates, policies)
		if err != nil {
			return fmt.Errorf("selector.%s: %w", selector.Name, err)
		}
		for _, group := range groups {
			declared[group] = struct{}{}
		}
	}

	for _, tmpl := range cfg.Template {
		if err := validateTemplate(tmpl, declared); err != nil {
			return fmt.Errorf("template.%s: %w", tmpl.Name, err)
		}
	}
	return nil
}

// validateRule validates one identifier rule and returns its declared slots.
// Params: rule config.
// Returns: slot names (declared slots, capture groups, default keys) or error.
func validateRule(rule RuleConfig) ([]string, error) {
	if err := structValidator.Struct(rule); err != nil {
		return nil, err
	}
	compiled, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern is invalid: %w", err)
	}

	declaredSlots := make(map[string]struct{}, len(rule.Slots))
	for _, slot := range rule.Slots {
		declaredSlots[slot] = struct{}{}
	}
	groups := captureGroups(compiled)
	if len(rule.Slots) > 0 {
		for _, group := range groups {
			if _, ok := declaredSlots[group]; !ok {
				return nil, fmt.Errorf("capture group %q is not listed in slots", group)
			}
		}
	}

	slots := append(append([]string(nil), rule.Slots...), groups...)
	for name := range rule.Defaults {
		slots = append(slots, name)
	}
	for _, example := range rule.Examples {
		if !compiled.MatchString(example) {
			return nil, fmt.Errorf("example %q does not match pattern", example)
		}
	}
	return slots, nil
}

// validateScanPolicy validates one scan policy and returns the capture names it can produce.
// Params: policy config and names available for marker placeholders.
// Returns: capture group names or error.
func validateScanPolicy(policy ScanPolicyConfig, declared map[string]struct{}) ([]string, error) {
	if err := structValidator.Struct(policy); err != nil {
		return nil, err
	}

	available := make(map[string]struct{}, len(declared))
	for name := range declared {
		available[name] = struct{}{}
	}
	var groups []string
	for _, group := range []struct {
		name     string
		patterns []string
	}{
		{name: "start", patterns: policy.Start},
		{name: "stop", patterns: policy.Stop},
		{name: "skip", patterns: policy.Skip},
	} {
		for i, pattern := range group.patterns {
			names, err := validateMarkerPattern(pattern, available)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", group.name, i, err)
			}
			groups = append(groups, names...)
		}
	}
	// start-marker captures feed interest patterns of forward policies
	for _, name := range groups {
		available[name] = struct{}{}
	}
	for i, pattern := range policy.Interest {
		names, err := validateMarkerPattern(pattern, available)
		if err != nil {
			return nil, fmt.Errorf("interest[%d]: %w", i, err)
		}
		groups = append(groups, names...)
	}
	return groups, nil
}

// validateMarkerPattern validates one marker regex with optional {{.name}} placeholders.
// Params: pattern text and names allowed as placeholders.
// Returns: named capture groups or error.
func validateMarkerPattern(pattern string, available map[string]struct{}) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("pattern is empty")
	}
	candidate := pattern
	if strings.Contains(pattern, "{{") {
		tmpl, err := templatefmt.ParseNarrativeTemplate("marker", pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern placeholder syntax: %w", err)
		}
		values := make(map[string]string)
		for _, name := range templatefmt.Placeholders(tmpl) {
			if _, ok := available[name]; !ok {
				return nil, fmt.Errorf("%w: pattern references undeclared placeholder %q", ErrPlaceholder, name)
			}
			values[name] = "X"
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, values); err != nil {
			return nil, fmt.Errorf("pattern placeholder expansion: %w", err)
		}
		candidate = b.String()
	}
	compiled, err := regexp.Compile(candidate)
	if err != nil {
		return nil, fmt.Errorf("pattern is invalid: %w", err)
	}
	return captureGroups(compiled), nil
}

// validateSelector validates one classifier selector.
// Params: full config, selector, known templates and scan policies.
// Returns: names bound by the selector (bind keys, lookup targets, regex groups) or error.
func validateSelector(cfg Config, selector SelectorConfig, templates map[string]TemplateConfig, policies map[string]struct{}) ([]string, error) {
	if err := structValidator.Struct(selector); err != nil {
		return nil, err
	}
	if _, ok := templates[selector.Template]; !ok {
		return nil, fmt.Errorf("template references unknown template %q", selector.Template)
	}
	for _, family := range selector.Family {
		if _, ok := cfg.FamilyByName(family); !ok {
			return nil, fmt.Errorf("family references unknown family %q", family)
		}
	}
	if selector.Policy != "" {
		if _, ok := policies[selector.Policy]; !ok {
			return nil, fmt.Errorf("policy references unknown scan policy %q", selector.Policy)
		}
	}

	var bound []string
	for i, cond := range selector.When {
		groups, err := validateCondition(cond)
		if err != nil {
			return nil, fmt.Errorf("when[%d]: %w", i, err)
		}
		bound = append(bound, groups...)
	}
	for name := range selector.Bind {
		bound = append(bound, name)
	}
	for i, lookup := range selector.Lookup {
		if _, ok := cfg.Lookup[lookup.Table]; !ok {
			return nil, fmt.Errorf("lookup[%d].table references unknown lookup %q", i, lookup.Table)
		}
		bound = append(bound, lookup.Into)
	}
	return bound, nil
}

// validateCondition validates one selector predicate.
// Params: condition config after applyDefaults.
// Returns: named groups of match regex or validation error.
func validateCondition(cond ConditionConfig) ([]string, error) {
	switch cond.Source {
	case SourceIdentifier, SourceFamily, SourceRule, SourcePolicy, SourceInterest, SourceWindow:
		if cond.Field != "" {
			return nil, fmt.Errorf("field is not supported for source %q", cond.Source)
		}
	case SourceField, SourceCapture:
		if strings.TrimSpace(cond.Field) == "" {
			return nil, fmt.Errorf("field is required for source %q", cond.Source)
		}
	default:
		return nil, fmt.Errorf("unsupported source %q", cond.Source)
	}
	if !IsSupportedConditionOp(cond.Source, cond.Op) {
		return nil, fmt.Errorf("unsupported op %q for source %q", cond.Op, cond.Source)
	}

	switch {
	case cond.Op == "present" || cond.Op == "absent":
		if len(cond.Value) > 0 || cond.N != nil {
			return nil, fmt.Errorf("op %q takes no operands", cond.Op)
		}
	case cond.Op == "between":
		if cond.N == nil || cond.Max == nil {
			return nil, errors.New("between requires n and max operands")
		}
		if *cond.Max < *cond.N {
			return nil, errors.New("between requires max >= n")
		}
	case IsNumericOp(cond.Op):
		if cond.N == nil {
			return nil, fmt.Errorf("op %q requires n operand", cond.Op)
		}
	case cond.Op == "in":
		if len(cond.Value) == 0 {
			return nil, errors.New("in operand requires non-empty value list")
		}
	default:
		if len(cond.Value) != 1 {
			return nil, fmt.Errorf("op %q requires exactly one value", cond.Op)
		}
	}

	switch cond.Op {
	case "match":
		compiled, err := regexp.Compile(cond.Value[0])
		if err != nil {
			return nil, fmt.Errorf("invalid match regex: %w", err)
		}
		return captureGroups(compiled), nil
	case "*":
		if _, err := CompileWildcardPattern(cond.Value[0]); err != nil {
			return nil, fmt.Errorf("invalid wildcard pattern: %w", err)
		}
	}
	return nil, nil
}

// validateTemplate validates bodies, language symmetry, fragments, and placeholders.
// Params: template config and every name some component declares.
// Returns: validation error; placeholder problems wrap ErrPlaceholder.
func validateTemplate(tmpl TemplateConfig, declared map[string]struct{}) error {
	zh := tmpl.ZH.Bodies()
	en := tmpl.EN.Bodies()
	nonEmpty := 0
	for _, section := range []string{"meaning", "indicator", "suggestion"} {
		zhBody := strings.TrimSpace(zh[section])
		enBody := strings.TrimSpace(en[section])
		if (zhBody == "") != (enBody == "") {
			return fmt.Errorf("%s must be defined for both zh and en", section)
		}
		if zhBody == "" {
			continue
		}
		nonEmpty++
		if err := validateNarrative("zh."+section, zh[section], declared); err != nil {
			return err
		}
		if err := validateNarrative("en."+section, en[section], declared); err != nil {
			return err
		}
	}
	if nonEmpty == 0 {
		return errors.New("at least one section is required")
	}

	for _, name := range tmpl.Required {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("%w: required field %q is not declared by any rule, default, or binding", ErrPlaceholder, name)
		}
	}
	for _, fragment := range tmpl.Fragments {
		if err := structValidator.Struct(fragment); err != nil {
			return fmt.Errorf("fragment.%s: %w", fragment.Name, err)
		}
		if _, ok := declared[fragment.When]; !ok {
			return fmt.Errorf("%w: fragment.%s.when references undeclared slot %q", ErrPlaceholder, fragment.Name, fragment.When)
		}
		if (strings.TrimSpace(fragment.ZH) == "") != (strings.TrimSpace(fragment.EN) == "") {
			return fmt.Errorf("fragment.%s must be defined for both zh and en", fragment.Name)
		}
		if err := validateNarrative("fragment."+fragment.Name+".zh", fragment.ZH, declared); err != nil {
			return err
		}
		if err := validateNarrative("fragment."+fragment.Name+".en", fragment.EN, declared); err != nil {
			return err
		}
	}
	return nil
}

// validateNarrative parses one body and checks its placeholders.
// Params: dotted path, body text, declared names.
// Returns: parse or placeholder error.
func validateNarrative(path, body string, declared map[string]struct{}) error {
	tmpl, err := templatefmt.ParseNarrativeTemplate(path, body)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	for _, name := range templatefmt.Placeholders(tmpl) {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("%w: %s references undeclared placeholder %q", ErrPlaceholder, path, name)
		}
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "plain", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}

// captureGroups returns sorted named capture groups of compiled regex.
func captureGroups(re *regexp.Regexp) []string {
	var names []string
	for _, name := range re.SubexpNames() {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DeclaredSlots returns every slot name declared by rules and defaults of one family.
// Params: family config.
// Returns: sorted slot names.
func DeclaredSlots(family FamilyConfig) []string {
	seen := make(map[string]struct{})
	for name := range family.Defaults {
		seen[name] = struct{}{}
	}
	for _, rule := range family.Rules {
		for _, slot := range rule.Slots {
			seen[slot] = struct{}{}
		}
		for name := range rule.Defaults {
			seen[name] = struct{}{}
		}
		if compiled, err := regexp.Compile(rule.Pattern); err == nil {
			for _, group := range captureGroups(compiled) {
				seen[group] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
