package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultServiceName      = "pathfinder"
	defaultLanguage         = "zh"
	defaultUnknownValue     = "unknown"
	defaultWorkers          = 1
	defaultLogEncoding      = "utf-8"
	defaultNATSURL          = "nats://127.0.0.1:4222"
	defaultReportSubject    = "pathfinder.diagnoses"
	defaultReportStream     = "PATHFINDER_DIAGNOSES"
	defaultReportTimeoutSec = 5
	defaultSeparatorZH      = "，"
	defaultSeparatorEN      = ", "

	// ScanDirectionBackward walks from the failure towards the log start.
	ScanDirectionBackward = "backward"
	// ScanDirectionForward finds an anchor behind the failure and walks forward to it.
	ScanDirectionForward = "forward"

	// SourceIdentifier matches against the normalized identifier.
	SourceIdentifier = "identifier"
	// SourceField matches against one named field value.
	SourceField = "field"
	// SourceFamily matches against the extracted family name.
	SourceFamily = "family"
	// SourceRule matches against the matched rule name.
	SourceRule = "rule"
	// SourcePolicy matches against the scan policy that produced the window.
	SourcePolicy = "policy"
	// SourceInterest matches against any interest sub-match of the window.
	SourceInterest = "interest"
	// SourceWindow matches against any line of the window.
	SourceWindow = "window"
	// SourceCapture matches against one named capture of the window.
	SourceCapture = "capture"
)

// ErrPlaceholder marks templates referencing names that nothing declares.
var ErrPlaceholder = errors.New("template placeholder mismatch")

var legacyArrayTablePattern = regexp.MustCompile(`(?m)^\s*\[\[\s*(family|rule|selector|template|scan|lookup)\s*\]\]`)

var supportedConditionOps = map[string]struct{}{
	"==": {}, "!=": {}, "prefix": {}, "in": {}, "match": {}, "*": {}, "contains": {},
	"present": {}, "absent": {},
	">": {}, ">=": {}, "<": {}, "<=": {}, "between": {},
}

// Builtins lists placeholder names always available to templates.
var Builtins = map[string]struct{}{
	"identifier": {}, "normalized": {}, "family": {}, "rule": {},
	"test_name": {}, "description": {}, "limit_low": {}, "limit_high": {}, "value": {},
	"status": {}, "error_msg": {}, "meas_code": {}, "details": {}, "error_code": {}, "error_code_name": {},
	"interest": {}, "interest_lines": {}, "window_start": {}, "policy": {}, "fragments": {},
	"standard_value": {}, "deviation": {}, "antenna_kind": {}, "mch_kind": {}, "mch_num": {},
}

// IsBuiltin reports whether name is a built-in placeholder.
func IsBuiltin(name string) bool {
	_, ok := Builtins[name]
	return ok
}

// Config holds runtime settings and the declarative rule source.
// Params: TOML/YAML sections from file, directory snapshot, or embedded pack.
// Returns: validated runtime configuration with ordered tables.
type Config struct {
	Service  ServiceConfig
	Log      LogConfig
	Report   ReportConfig
	Defaults map[string]string
	Family   []FamilyConfig
	Selector []SelectorConfig
	Template []TemplateConfig
	Scan     []ScanPolicyConfig
	Lookup   map[string]map[string]string
}

// rawConfig mirrors the file model before ordering and normalization.
// Params: decoded sections from one source fragment.
// Returns: named tables keyed by their TOML key.
type rawConfig struct {
	Service  ServiceConfig                `toml:"service"`
	Log      LogConfig                    `toml:"log"`
	Report   ReportConfig                 `toml:"report"`
	Defaults map[string]string            `toml:"defaults"`
	Family   map[string]rawFamilyConfig   `toml:"family"`
	Selector map[string]SelectorConfig    `toml:"selector"`
	Template map[string]rawTemplateConfig `toml:"template"`
	Scan     map[string]ScanPolicyConfig  `toml:"scan"`
	Lookup   map[string]map[string]string `toml:"lookup"`
}

// ServiceConfig contains process-level settings.
// Params: name, language, fallbacks, sentinel, overlap strictness, workers, log encoding.
// Returns: service behavior settings.
type ServiceConfig struct {
	Name            string `toml:"name"`
	Language        string `toml:"language" validate:"oneof=zh en"`
	DefaultFamily   string `toml:"default_family" validate:"required"`
	DefaultTemplate string `toml:"default_template" validate:"required"`
	Unknown         string `toml:"unknown" validate:"required"`
	StrictOverlap   bool   `toml:"strict_overlap"`
	Workers         int    `toml:"workers" validate:"min=1,max=256"`
	LogEncoding     string `toml:"log_encoding" validate:"oneof=utf-8 gbk"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ReportConfig configures where diagnosis records are published.
type ReportConfig struct {
	NATS ReportNATSConfig `toml:"nats"`
}

// ReportNATSConfig configures JetStream publishing of diagnosis records.
// Params: enable flag, server URL, subject, stream, publish timeout.
// Returns: report sink settings.
type ReportNATSConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url" validate:"required_if=Enabled true"`
	Subject    string `toml:"subject" validate:"required_if=Enabled true"`
	Stream     string `toml:"stream" validate:"required_if=Enabled true"`
	TimeoutSec int    `toml:"timeout_sec" validate:"min=0"`
}

// rawFamilyConfig stores one `[family.<name>]` table.
type rawFamilyConfig struct {
	Order       int                   `toml:"order"`
	Description string                `toml:"description"`
	Defaults    map[string]string     `toml:"defaults"`
	Rule        map[string]RuleConfig `toml:"rule"`
}

// FamilyConfig is one identifier family with its ordered rules.
// Params: family name, order among families, slot defaults, rules.
// Returns: normalized family definition.
type FamilyConfig struct {
	Name        string
	Order       int
	Description string
	Defaults    map[string]string
	Rules       []RuleConfig
}

// RuleConfig describes one identifier pattern rule.
// Params: priority order, regex with named captures, declared slots, slot defaults, sample identifiers.
// Returns: rule definition evaluated by the extractor.
type RuleConfig struct {
	Name        string            `toml:"name"`
	Family      string            `toml:"-"`
	Order       int               `toml:"order"`
	Description string            `toml:"description"`
	Pattern     string            `toml:"pattern" validate:"required"`
	Slots       []string          `toml:"slots"`
	Defaults    map[string]string `toml:"defaults"`
	Examples    []string          `toml:"examples"`
}

// SelectorConfig is one classifier cascade entry.
// Params: order, target template, family/policy scope, conditions, bindings, lookups.
// Returns: selector definition.
type SelectorConfig struct {
	Name        string            `toml:"name"`
	Order       int               `toml:"order"`
	Description string            `toml:"description"`
	Template    string            `toml:"template" validate:"required"`
	Family      StringList        `toml:"family"`
	Policy      string            `toml:"policy"`
	When        []ConditionConfig `toml:"when" validate:"dive"`
	Bind        map[string]string `toml:"bind"`
	Lookup      []LookupRefConfig `toml:"lookup" validate:"dive"`
}

// ConditionConfig is one selector predicate.
// Params: value source, optional field name, operator, string operands, numeric operands.
// Returns: predicate definition.
type ConditionConfig struct {
	Source string     `toml:"source" validate:"required"`
	Field  string     `toml:"field"`
	Op     string     `toml:"op" validate:"required"`
	Value  StringList `toml:"value"`
	N      *float64   `toml:"n"`
	Max    *float64   `toml:"max"`
}

// LookupRefConfig translates one bound value through a lookup table.
// Params: table name, source field, destination field, fallback text.
// Returns: lookup binding definition.
type LookupRefConfig struct {
	Table   string `toml:"table" validate:"required"`
	Field   string `toml:"field" validate:"required"`
	Into    string `toml:"into" validate:"required"`
	Default string `toml:"default"`
}

// rawTemplateConfig stores one `[template.<name>]` table.
type rawTemplateConfig struct {
	Name        string                    `toml:"name"`
	Description string                    `toml:"description"`
	Required    []string                  `toml:"required"`
	SeparatorZH string                    `toml:"separator_zh"`
	SeparatorEN string                    `toml:"separator_en"`
	ZH          SectionConfig             `toml:"zh"`
	EN          SectionConfig             `toml:"en"`
	Fragment    map[string]FragmentConfig `toml:"fragment"`
}

// TemplateConfig is one bilingual narrative template.
// Params: required fields, zh/en sections, fragment separators, ordered fragments.
// Returns: normalized template definition.
type TemplateConfig struct {
	Name        string
	Description string
	Required    []string
	SeparatorZH string
	SeparatorEN string
	ZH          SectionConfig
	EN          SectionConfig
	Fragments   []FragmentConfig
}

// Section returns the language variant.
// Params: "zh" or "en".
// Returns: section bodies for that language.
func (t TemplateConfig) Section(lang string) SectionConfig {
	if lang == "en" {
		return t.EN
	}
	return t.ZH
}

// SectionConfig holds the three narrative bodies of one language.
type SectionConfig struct {
	Meaning    string `toml:"meaning"`
	Indicator  string `toml:"indicator"`
	Suggestion string `toml:"suggestion"`
}

// Bodies returns section bodies keyed by section name.
func (s SectionConfig) Bodies() map[string]string {
	return map[string]string{
		"meaning":    s.Meaning,
		"indicator":  s.Indicator,
		"suggestion": s.Suggestion,
	}
}

// FragmentConfig is one optional narrative piece.
// Params: order, slot whose presence enables the fragment, zh/en bodies.
// Returns: fragment definition.
type FragmentConfig struct {
	Name  string `toml:"name"`
	Order int    `toml:"order"`
	When  string `toml:"when" validate:"required"`
	ZH    string `toml:"zh"`
	EN    string `toml:"en"`
}

// Body returns fragment text for language.
func (f FragmentConfig) Body(lang string) string {
	if lang == "en" {
		return f.EN
	}
	return f.ZH
}

// ScanPolicyConfig describes one log context scan policy.
// Params: order, direction, marker/interest/skip patterns, optional line limit.
// Returns: scan policy definition.
type ScanPolicyConfig struct {
	Name        string     `toml:"name"`
	Order       int        `toml:"order"`
	Description string     `toml:"description"`
	Direction   string     `toml:"direction" validate:"oneof=backward forward"`
	Start       StringList `toml:"start" validate:"min=1"`
	Stop        StringList `toml:"stop"`
	Interest    StringList `toml:"interest"`
	Skip        StringList `toml:"skip"`
	MaxLines    int        `toml:"max_lines" validate:"min=0"`
}

// StringList is an ordered list of operands or patterns.
type StringList []string

// FamilyByName finds one family.
// Params: family name.
// Returns: family and presence flag.
func (c Config) FamilyByName(name string) (FamilyConfig, bool) {
	for _, family := range c.Family {
		if family.Name == name {
			return family, true
		}
	}
	return FamilyConfig{}, false
}

// TemplateByName finds one template.
// Params: template name.
// Returns: template and presence flag.
func (c Config) TemplateByName(name string) (TemplateConfig, bool) {
	for _, tmpl := range c.Template {
		if tmpl.Name == name {
			return tmpl, true
		}
	}
	return TemplateConfig{}, false
}

// normalizeRawConfig converts named tables into ordered runtime slices.
// Params: merged raw config.
// Returns: normalized config or error on forbidden explicit names.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service:  raw.Service,
		Log:      raw.Log,
		Report:   raw.Report,
		Defaults: raw.Defaults,
		Lookup:   raw.Lookup,
	}

	for _, name := range sortedKeys(raw.Family) {
		body := raw.Family[name]
		family := FamilyConfig{
			Name:        name,
			Order:       body.Order,
			Description: body.Description,
			Defaults:    body.Defaults,
		}
		for _, ruleName := range sortedKeys(body.Rule) {
			rule := body.Rule[ruleName]
			if strings.TrimSpace(rule.Name) != "" {
				return Config{}, fmt.Errorf("family.%s.rule.%s.name is not supported; use the table key as rule name", name, ruleName)
			}
			rule.Name = ruleName
			rule.Family = name
			family.Rules = append(family.Rules, rule)
		}
		sortByOrder(family.Rules, func(r RuleConfig) (int, string) { return r.Order, r.Name })
		cfg.Family = append(cfg.Family, family)
	}
	sortByOrder(cfg.Family, func(f FamilyConfig) (int, string) { return f.Order, f.Name })

	for _, name := range sortedKeys(raw.Selector) {
		selector := raw.Selector[name]
		if strings.TrimSpace(selector.Name) != "" {
			return Config{}, fmt.Errorf("selector.%s.name is not supported; use [selector.%s] key as selector name", name, name)
		}
		selector.Name = name
		cfg.Selector = append(cfg.Selector, selector)
	}
	sortByOrder(cfg.Selector, func(s SelectorConfig) (int, string) { return s.Order, s.Name })

	for _, name := range sortedKeys(raw.Template) {
		body := raw.Template[name]
		if strings.TrimSpace(body.Name) != "" {
			return Config{}, fmt.Errorf("template.%s.name is not supported; use [template.%s] key as template name", name, name)
		}
		tmpl := TemplateConfig{
			Name:        name,
			Description: body.Description,
			Required:    body.Required,
			SeparatorZH: body.SeparatorZH,
			SeparatorEN: body.SeparatorEN,
			ZH:          body.ZH,
			EN:          body.EN,
		}
		for _, fragmentName := range sortedKeys(body.Fragment) {
			fragment := body.Fragment[fragmentName]
			fragment.Name = fragmentName
			tmpl.Fragments = append(tmpl.Fragments, fragment)
		}
		sortByOrder(tmpl.Fragments, func(f FragmentConfig) (int, string) { return f.Order, f.Name })
		cfg.Template = append(cfg.Template, tmpl)
	}

	for _, name := range sortedKeys(raw.Scan) {
		policy := raw.Scan[name]
		if strings.TrimSpace(policy.Name) != "" {
			return Config{}, fmt.Errorf("scan.%s.name is not supported; use [scan.%s] key as policy name", name, name)
		}
		policy.Name = name
		cfg.Scan = append(cfg.Scan, policy)
	}
	sortByOrder(cfg.Scan, func(p ScanPolicyConfig) (int, string) { return p.Order, p.Name })

	return cfg, nil
}

// sortedKeys returns map keys in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// sortByOrder sorts items by explicit order, ties broken by name.
// Params: slice and accessor returning (order, name).
// Returns: sorted slice side-effect.
func sortByOrder[T any](items []T, key func(T) (int, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		oi, ni := key(items[i])
		oj, nj := key(items[j])
		if oi != oj {
			return oi < oj
		}
		return ni < nj
	})
}

// mergeRawConfig overlays one fragment onto accumulated raw config.
// Params: destination and next fragment in file-name order.
// Returns: merged configuration side-effect in dst.
func mergeRawConfig(dst *rawConfig, src rawConfig) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.Report != (ReportConfig{}) {
		dst.Report = src.Report
	}
	dst.Defaults = mergeStringMap(dst.Defaults, src.Defaults)

	for name, family := range src.Family {
		if dst.Family == nil {
			dst.Family = make(map[string]rawFamilyConfig)
		}
		current, ok := dst.Family[name]
		if !ok {
			dst.Family[name] = family
			continue
		}
		if family.Order != 0 {
			current.Order = family.Order
		}
		if family.Description != "" {
			current.Description = family.Description
		}
		current.Defaults = mergeStringMap(current.Defaults, family.Defaults)
		for ruleName, rule := range family.Rule {
			if current.Rule == nil {
				current.Rule = make(map[string]RuleConfig)
			}
			current.Rule[ruleName] = rule
		}
		dst.Family[name] = current
	}

	dst.Selector = overlayTables(dst.Selector, src.Selector)
	dst.Template = overlayTables(dst.Template, src.Template)
	dst.Scan = overlayTables(dst.Scan, src.Scan)

	for name, table := range src.Lookup {
		if dst.Lookup == nil {
			dst.Lookup = make(map[string]map[string]string)
		}
		dst.Lookup[name] = mergeStringMap(dst.Lookup[name], table)
	}
}

// overlayTables replaces named tables by later fragments.
func overlayTables[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for name, value := range src {
		dst[name] = value
	}
	return dst
}

func mergeStringMap(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

// applyDefaults fills optional settings.
// Params: config pointer after merge.
// Returns: config side-effect with defaults.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	cfg.Service.Language = strings.ToLower(strings.TrimSpace(cfg.Service.Language))
	if cfg.Service.Language == "" {
		cfg.Service.Language = defaultLanguage
	}
	if cfg.Service.Unknown == "" {
		cfg.Service.Unknown = defaultUnknownValue
	}
	if cfg.Service.Workers <= 0 {
		cfg.Service.Workers = defaultWorkers
	}
	cfg.Service.LogEncoding = strings.ToLower(strings.TrimSpace(cfg.Service.LogEncoding))
	if cfg.Service.LogEncoding == "" || cfg.Service.LogEncoding == "utf8" {
		cfg.Service.LogEncoding = defaultLogEncoding
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if cfg.Report.NATS.URL == "" {
		cfg.Report.NATS.URL = defaultNATSURL
	}
	if cfg.Report.NATS.Subject == "" {
		cfg.Report.NATS.Subject = defaultReportSubject
	}
	if cfg.Report.NATS.Stream == "" {
		cfg.Report.NATS.Stream = defaultReportStream
	}
	if cfg.Report.NATS.TimeoutSec <= 0 {
		cfg.Report.NATS.TimeoutSec = defaultReportTimeoutSec
	}

	for i := range cfg.Template {
		if cfg.Template[i].SeparatorZH == "" {
			cfg.Template[i].SeparatorZH = defaultSeparatorZH
		}
		if cfg.Template[i].SeparatorEN == "" {
			cfg.Template[i].SeparatorEN = defaultSeparatorEN
		}
	}
	for i := range cfg.Selector {
		for j := range cfg.Selector[i].When {
			cond := &cfg.Selector[i].When[j]
			cond.Source = strings.ToLower(strings.TrimSpace(cond.Source))
			cond.Op = strings.ToLower(strings.TrimSpace(cond.Op))
		}
	}
	for i := range cfg.Scan {
		cfg.Scan[i].Direction = strings.ToLower(strings.TrimSpace(cfg.Scan[i].Direction))
		if cfg.Scan[i].Direction == "" {
			cfg.Scan[i].Direction = ScanDirectionBackward
		}
	}
}

// IsSupportedConditionOp reports whether op is allowed for a source.
// Params: condition source and operator.
// Returns: true when the pair is supported.
func IsSupportedConditionOp(source, op string) bool {
	if _, ok := supportedConditionOps[op]; !ok {
		return false
	}
	if op == "present" || op == "absent" {
		return source == SourceField || source == SourceCapture
	}
	return true
}

// IsNumericOp reports whether op reinterprets values as numbers.
func IsNumericOp(op string) bool {
	switch op {
	case ">", ">=", "<", "<=", "between":
		return true
	default:
		return false
	}
}

// CompileWildcardPattern converts wildcard syntax (*, ?) into regex and compiles it.
// Params: wildcard expression from selector config.
// Returns: compiled regex matching lowercase input.
func CompileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	replacer := strings.NewReplacer(
		".", "\\.",
		"+", "\\+",
		"(", "\\(",
		")", "\\)",
		"[", "\\[",
		"]", "\\]",
		"{", "\\{",
		"}", "\\}",
		"^", "\\^",
		"$", "\\$",
		"|", "\\|",
	)
	normalized := replacer.Replace(strings.ToLower(pattern))
	normalized = strings.ReplaceAll(normalized, "*", ".*")
	normalized = strings.ReplaceAll(normalized, "?", ".")
	return regexp.Compile("^" + normalized + "$")
}
