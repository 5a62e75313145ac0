package classify

import (
	"fmt"
	"regexp"
	"strconv"

	"pathfinder/internal/config"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
)

var (
	chainPattern = regexp.MustCompile(`^C(\d+)$`)
	mchPattern   = regexp.MustCompile(`^([LMH])CH_?(\d+)$`)
)

// Input is everything one classification may inspect.
// Params: identifier, family/rule from extraction, fields, captured flags, optional context window.
// Returns: classifier input; Window nil means identifier-only classification.
type Input struct {
	Identifier domain.Identifier
	Family     string
	Rule       string
	Fields     domain.FieldSet
	Captured   map[string]bool
	Window     *domain.ContextWindow
}

// Decision is the selected template with its bound fields.
// Params: template name, selector name, fields after bindings, context usage, fallback flag.
// Returns: classification outcome consumed by the renderer.
type Decision struct {
	Template    string
	Selector    string
	Policy      string
	Fields      domain.FieldSet
	UsesContext bool
	Fallback    bool
}

type selector struct {
	name        string
	template    string
	families    map[string]struct{}
	policy      string
	conditions  []engine.Condition
	bind        map[string]string
	lookups     []config.LookupRefConfig
	required    []string
	usesContext bool
}

// Classifier evaluates the ordered selector cascade.
// Params: compiled selectors, default template, lookup tables, unknown sentinel.
// Returns: read-only classifier safe for concurrent use.
type Classifier struct {
	selectors       []selector
	defaultTemplate string
	lookups         map[string]map[string]string
	unknown         string
}

// New compiles selectors from validated config.
// Params: config snapshot.
// Returns: classifier or compile error.
func New(cfg config.Config) (*Classifier, error) {
	classifier := &Classifier{
		defaultTemplate: cfg.Service.DefaultTemplate,
		lookups:         cfg.Lookup,
		unknown:         cfg.Service.Unknown,
	}
	for _, selectorCfg := range cfg.Selector {
		tmpl, ok := cfg.TemplateByName(selectorCfg.Template)
		if !ok {
			return nil, fmt.Errorf("selector.%s: unknown template %q", selectorCfg.Name, selectorCfg.Template)
		}
		sel := selector{
			name:     selectorCfg.Name,
			template: selectorCfg.Template,
			policy:   selectorCfg.Policy,
			bind:     selectorCfg.Bind,
			lookups:  selectorCfg.Lookup,
			required: tmpl.Required,
		}
		if len(selectorCfg.Family) > 0 {
			sel.families = make(map[string]struct{}, len(selectorCfg.Family))
			for _, family := range selectorCfg.Family {
				sel.families[family] = struct{}{}
			}
		}
		sel.usesContext = sel.policy != ""
		for i, condCfg := range selectorCfg.When {
			cond, err := engine.CompileCondition(condCfg)
			if err != nil {
				return nil, fmt.Errorf("selector.%s.when[%d]: %w", selectorCfg.Name, i, err)
			}
			switch cond.Source {
			case config.SourceInterest, config.SourceWindow, config.SourceCapture, config.SourcePolicy:
				sel.usesContext = true
			}
			sel.conditions = append(sel.conditions, cond)
		}
		classifier.selectors = append(classifier.selectors, sel)
	}
	return classifier, nil
}

// Classify selects the first matching selector's template.
// Params: classification input.
// Returns: decision; the default template with Fallback=true when nothing matches.
func (c *Classifier) Classify(in Input) Decision {
	base := c.baseFields(in)
	policy := ""
	if !in.Window.Empty() {
		policy = in.Window.Policy
	}

	for _, sel := range c.selectors {
		bound, ok := c.evaluate(sel, in, base)
		if !ok {
			continue
		}
		fields := base.Clone()
		for key, value := range bound {
			fields[key] = value
		}
		for key, value := range sel.bind {
			fields[key] = value
		}
		for _, ref := range sel.lookups {
			if value := c.lookup(ref, fields); value != "" {
				fields[ref.Into] = value
			}
		}
		return Decision{
			Template:    sel.template,
			Selector:    sel.name,
			Policy:      policy,
			Fields:      fields,
			UsesContext: sel.usesContext,
		}
	}
	return Decision{Template: c.defaultTemplate, Policy: policy, Fields: base, Fallback: true}
}

// evaluate checks scope, conditions, and required fields of one selector.
// Params: selector, input, base fields.
// Returns: regex bindings collected by match conditions and match flag.
func (c *Classifier) evaluate(sel selector, in Input, base domain.FieldSet) (map[string]string, bool) {
	if sel.families != nil {
		if _, ok := sel.families[in.Family]; !ok {
			return nil, false
		}
	}
	if sel.policy != "" && (in.Window.Empty() || in.Window.Policy != sel.policy) {
		return nil, false
	}

	bound := make(map[string]string)
	for _, cond := range sel.conditions {
		if !c.matchCondition(cond, in, base, bound) {
			return nil, false
		}
	}
	for key, value := range sel.bind {
		if _, ok := bound[key]; !ok {
			bound[key] = value
		}
	}
	for _, name := range sel.required {
		if !c.present(name, in, base, bound) {
			return nil, false
		}
	}
	return bound, true
}

// matchCondition resolves source values and applies the predicate.
// Params: condition, input, base fields, bindings collected so far (extended on match).
// Returns: true when predicate holds for the source (any value for list sources).
func (c *Classifier) matchCondition(cond engine.Condition, in Input, base domain.FieldSet, bound map[string]string) bool {
	switch cond.Op {
	case "present":
		return c.presentFor(cond, in, base, bound)
	case "absent":
		return !c.presentFor(cond, in, base, bound)
	}

	for _, value := range c.values(cond, in, base, bound) {
		ok, groups := cond.Match(value)
		if !ok {
			continue
		}
		for key, group := range groups {
			bound[key] = group
		}
		return true
	}
	return false
}

func (c *Classifier) presentFor(cond engine.Condition, in Input, base domain.FieldSet, bound map[string]string) bool {
	if cond.Source == config.SourceCapture {
		if in.Window.Empty() {
			return false
		}
		return in.Window.Captures[cond.Field] != ""
	}
	return c.present(cond.Field, in, base, bound)
}

// values resolves the candidate values of a condition source.
func (c *Classifier) values(cond engine.Condition, in Input, base domain.FieldSet, bound map[string]string) []string {
	switch cond.Source {
	case config.SourceIdentifier:
		return []string{in.Identifier.Normalized}
	case config.SourceFamily:
		return []string{in.Family}
	case config.SourceRule:
		return []string{in.Rule}
	case config.SourceField:
		if value, ok := bound[cond.Field]; ok {
			return []string{value}
		}
		if value, ok := base[cond.Field]; ok {
			return []string{value}
		}
		return nil
	case config.SourcePolicy:
		if in.Window.Empty() {
			return nil
		}
		return []string{in.Window.Policy}
	case config.SourceInterest:
		if in.Window.Empty() {
			return nil
		}
		return in.Window.InterestTexts()
	case config.SourceWindow:
		if in.Window.Empty() {
			return nil
		}
		out := make([]string, 0, len(in.Window.Lines))
		for _, line := range in.Window.Lines {
			out = append(out, line.Text)
		}
		return out
	case config.SourceCapture:
		if in.Window.Empty() {
			return nil
		}
		if value, ok := in.Window.Captures[cond.Field]; ok {
			return []string{value}
		}
	}
	return nil
}

// present reports whether a name carries real evidence rather than a default.
// Params: field name, input, base fields, selector bindings.
// Returns: true for captured slots, bound values, window captures, and derived values.
func (c *Classifier) present(name string, in Input, base domain.FieldSet, bound map[string]string) bool {
	if bound[name] != "" {
		return true
	}
	if in.Captured[name] {
		return true
	}
	if !in.Window.Empty() && in.Window.Captures[name] != "" {
		return true
	}
	if _, declared := in.Fields[name]; declared {
		return false
	}
	value := base[name]
	return value != "" && value != c.unknown
}

// lookup translates one field through a lookup table.
func (c *Classifier) lookup(ref config.LookupRefConfig, fields domain.FieldSet) string {
	table := c.lookups[ref.Table]
	key := fields[ref.Field]
	if value, ok := table[key]; ok && key != "" {
		return value
	}
	if value, ok := table["*"]; ok {
		return value
	}
	return ref.Default
}

// baseFields copies input fields, adds window captures and typed derivations.
// Params: classification input.
// Returns: new field set; input fields are never mutated.
func (c *Classifier) baseFields(in Input) domain.FieldSet {
	fields := in.Fields.Clone()
	if !in.Window.Empty() {
		fields = fields.With(in.Window.Captures)
	}
	return fields.With(c.derive(fields))
}

// derive reinterprets captured text as typed values.
// Params: fields after captures.
// Returns: derived values: standard_value, deviation, antenna_kind, mch_kind, mch_num.
func (c *Classifier) derive(fields domain.FieldSet) map[string]string {
	out := map[string]string{
		"deviation":    c.unknown,
		"antenna_kind": c.unknown,
		"mch_kind":     c.unknown,
	}

	value, okValue := parseStrict(fields["value"])
	low, okLow := parseStrict(fields["limit_low"])
	high, okHigh := parseStrict(fields["limit_high"])
	if okLow && okHigh {
		out["standard_value"] = strconv.FormatFloat((low+high)/2, 'f', -1, 64)
	}
	if okValue {
		switch {
		case okHigh && value > high:
			out["deviation"] = "high"
		case okLow && value < low:
			out["deviation"] = "low"
		case okLow && okHigh:
			out["deviation"] = "in_range"
		}
	}

	for _, slot := range []string{"channel", "chain"} {
		if match := chainPattern.FindStringSubmatch(fields[slot]); match != nil {
			switch match[1] {
			case "0":
				out["antenna_kind"] = "primary"
			case "1":
				out["antenna_kind"] = "diversity"
			default:
				out["antenna_kind"] = "chain" + match[1]
			}
			break
		}
	}

	if match := mchPattern.FindStringSubmatch(fields["mch"]); match != nil {
		switch match[1] {
		case "L":
			out["mch_kind"] = "low"
		case "M":
			out["mch_kind"] = "middle"
		case "H":
			out["mch_kind"] = "high"
		}
		out["mch_num"] = match[2]
	}
	return out
}

// parseStrict parses a whole numeric string (no unit stripping) for limits and values.
func parseStrict(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	number, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}
