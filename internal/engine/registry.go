package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	"pathfinder/internal/config"
)

// ErrUnknownFamily marks extraction against a family the registry does not hold.
var ErrUnknownFamily = errors.New("unknown family")

// ErrOverlap marks rules whose sample identifiers are shadowed by earlier rules.
var ErrOverlap = errors.New("rule overlap")

// Rule is one compiled identifier rule.
// Params: rule id, family, order, compiled pattern, declared slots with resolved defaults.
// Returns: immutable rule used by the extractor.
type Rule struct {
	ID       string
	Family   string
	Order    int
	Pattern  *regexp.Regexp
	Slots    []string
	Defaults map[string]string
	Examples []string
}

// Family is one ordered rule list.
type Family struct {
	Name        string
	Order       int
	Description string
	Slots       []string
	Defaults    map[string]string
	Rules       []Rule
}

// Registry holds ordered rule families, read-only after construction.
// Params: compiled families indexed by name, default family, slot defaults, overlap findings.
// Returns: shared rule source safe for concurrent extraction.
type Registry struct {
	families      []Family
	index         map[string]int
	defaultFamily string
	unknown       string
	slotDefaults  map[string]string
	overlaps      []Overlap
}

// NewRegistry compiles families from validated config.
// Params: config snapshot and optional logger for overlap findings.
// Returns: registry or compile/overlap error.
func NewRegistry(cfg config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := &Registry{
		index:         make(map[string]int, len(cfg.Family)),
		defaultFamily: cfg.Service.DefaultFamily,
		unknown:       cfg.Service.Unknown,
		slotDefaults:  make(map[string]string),
	}
	for name, value := range cfg.Defaults {
		registry.slotDefaults[name] = value
	}

	for _, familyCfg := range cfg.Family {
		family := Family{
			Name:        familyCfg.Name,
			Order:       familyCfg.Order,
			Description: familyCfg.Description,
			Defaults:    make(map[string]string),
		}
		for _, ruleCfg := range familyCfg.Rules {
			rule, err := compileRule(cfg, familyCfg, ruleCfg)
			if err != nil {
				return nil, fmt.Errorf("family.%s.rule.%s: %w", familyCfg.Name, ruleCfg.Name, err)
			}
			family.Rules = append(family.Rules, rule)
		}
		for _, slot := range config.DeclaredSlots(familyCfg) {
			family.Slots = append(family.Slots, slot)
			family.Defaults[slot] = resolveDefault(cfg, familyCfg, config.RuleConfig{}, slot)
			if _, ok := registry.slotDefaults[slot]; !ok {
				registry.slotDefaults[slot] = family.Defaults[slot]
			}
		}
		registry.index[family.Name] = len(registry.families)
		registry.families = append(registry.families, family)
	}
	if _, ok := registry.index[registry.defaultFamily]; !ok {
		return nil, fmt.Errorf("%w: default family %q", ErrUnknownFamily, registry.defaultFamily)
	}

	registry.overlaps = findOverlaps(registry.families)
	shadowed := 0
	for _, overlap := range registry.overlaps {
		level := slog.LevelInfo
		if overlap.Shadowed {
			level = slog.LevelWarn
			shadowed++
		}
		logger.Log(context.Background(), level, "rule overlap",
			"family", overlap.Family,
			"rule", overlap.Rule,
			"other", overlap.Other,
			"example", overlap.Example,
			"shadowed", overlap.Shadowed,
		)
	}
	if shadowed > 0 && cfg.Service.StrictOverlap {
		return nil, fmt.Errorf("%w: %d example(s) shadowed by earlier rules", ErrOverlap, shadowed)
	}
	return registry, nil
}

// compileRule compiles one rule and resolves defaults for every declared slot.
// Params: full config, owning family, rule config.
// Returns: compiled rule or regex error.
func compileRule(cfg config.Config, family config.FamilyConfig, ruleCfg config.RuleConfig) (Rule, error) {
	pattern, err := regexp.Compile(ruleCfg.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile pattern: %w", err)
	}
	rule := Rule{
		ID:       ruleCfg.Name,
		Family:   family.Name,
		Order:    ruleCfg.Order,
		Pattern:  pattern,
		Defaults: make(map[string]string),
		Examples: ruleCfg.Examples,
	}

	seen := make(map[string]struct{})
	addSlot := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		rule.Slots = append(rule.Slots, name)
	}
	for _, slot := range ruleCfg.Slots {
		addSlot(slot)
	}
	for _, name := range pattern.SubexpNames() {
		addSlot(name)
	}
	for _, name := range sortedDefaultKeys(ruleCfg.Defaults) {
		addSlot(name)
	}
	for _, slot := range rule.Slots {
		rule.Defaults[slot] = resolveDefault(cfg, family, ruleCfg, slot)
	}
	return rule, nil
}

// resolveDefault picks rule, family, global default, then the unknown sentinel.
func resolveDefault(cfg config.Config, family config.FamilyConfig, rule config.RuleConfig, slot string) string {
	if value, ok := rule.Defaults[slot]; ok {
		return value
	}
	if value, ok := family.Defaults[slot]; ok {
		return value
	}
	if value, ok := cfg.Defaults[slot]; ok {
		return value
	}
	return cfg.Service.Unknown
}

func sortedDefaultKeys(defaults map[string]string) []string {
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Family returns one family by name.
// Params: family name.
// Returns: family and presence flag.
func (r *Registry) Family(name string) (Family, bool) {
	idx, ok := r.index[name]
	if !ok {
		return Family{}, false
	}
	return r.families[idx], true
}

// Families returns family names in evaluation order.
func (r *Registry) Families() []string {
	names := make([]string, 0, len(r.families))
	for _, family := range r.families {
		names = append(names, family.Name)
	}
	return names
}

// DefaultFamily returns the fallback family name.
func (r *Registry) DefaultFamily() string {
	return r.defaultFamily
}

// Unknown returns the unknown-value sentinel used for undeclared defaults.
func (r *Registry) Unknown() string {
	return r.unknown
}

// SlotDefault returns the registered default for a slot name.
// Params: slot name.
// Returns: global default, else first family default, else empty string for names no rule declares.
func (r *Registry) SlotDefault(name string) string {
	if value, ok := r.slotDefaults[name]; ok {
		return value
	}
	return ""
}

// Overlaps returns overlap findings computed at construction.
func (r *Registry) Overlaps() []Overlap {
	return append([]Overlap(nil), r.overlaps...)
}
