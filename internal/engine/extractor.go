package engine

import (
	"errors"
	"fmt"

	"pathfinder/internal/domain"
)

// ErrNoMatch marks identifiers no rule of the searched families matches.
var ErrNoMatch = errors.New("no rule matched")

// Extraction is the decomposition of one identifier.
// Params: identifier, family/rule that matched, field set, and names actually captured.
// Returns: per-identifier result; Fields always carries every declared slot.
type Extraction struct {
	Identifier domain.Identifier
	Family     string
	Rule       string
	Fields     domain.FieldSet
	Captured   map[string]bool
	Fallback   bool
}

// Extract applies one family's rules in order to a normalized identifier.
// Params: parsed identifier and family name.
// Returns: first matching rule's fields, ErrNoMatch, or ErrUnknownFamily.
func (r *Registry) Extract(id domain.Identifier, family string) (Extraction, error) {
	fam, ok := r.Family(family)
	if !ok {
		return Extraction{Identifier: id}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	if extraction, ok := fam.match(id); ok {
		return extraction, nil
	}
	return Extraction{Identifier: id, Family: family}, fmt.Errorf("%w: %s in family %s", ErrNoMatch, id.Normalized, family)
}

// ExtractAny tries families in order and stops at the first matching rule.
// Params: parsed identifier.
// Returns: extraction or ErrNoMatch when no family matches.
func (r *Registry) ExtractAny(id domain.Identifier) (Extraction, error) {
	for _, fam := range r.families {
		if extraction, ok := fam.match(id); ok {
			return extraction, nil
		}
	}
	return Extraction{Identifier: id}, fmt.Errorf("%w: %s", ErrNoMatch, id.Normalized)
}

// Fallback builds the default-family extraction used when no rule matches.
// Params: parsed identifier.
// Returns: extraction with every default-family slot set to its default.
func (r *Registry) Fallback(id domain.Identifier) Extraction {
	fam := r.families[r.index[r.defaultFamily]]
	fields := make(domain.FieldSet, len(fam.Slots))
	for _, slot := range fam.Slots {
		fields[slot] = fam.Defaults[slot]
	}
	return Extraction{
		Identifier: id,
		Family:     fam.Name,
		Fields:     fields,
		Captured:   map[string]bool{},
		Fallback:   true,
	}
}

// match runs ordered rules of one family.
func (f Family) match(id domain.Identifier) (Extraction, bool) {
	for _, rule := range f.Rules {
		groups := rule.Pattern.FindStringSubmatch(id.Normalized)
		if groups == nil {
			continue
		}
		return rule.extraction(id, groups), true
	}
	return Extraction{}, false
}

// extraction builds the field set from submatches and declared defaults.
// Params: identifier and submatch slice of this rule's pattern.
// Returns: extraction with captured flags for non-empty groups.
func (rule Rule) extraction(id domain.Identifier, groups []string) Extraction {
	fields := make(domain.FieldSet, len(rule.Slots))
	for _, slot := range rule.Slots {
		fields[slot] = rule.Defaults[slot]
	}
	captured := make(map[string]bool)
	for i, name := range rule.Pattern.SubexpNames() {
		if name == "" || i >= len(groups) || groups[i] == "" {
			continue
		}
		fields[name] = groups[i]
		captured[name] = true
	}
	return Extraction{
		Identifier: id,
		Family:     rule.Family,
		Rule:       rule.ID,
		Fields:     fields,
		Captured:   captured,
	}
}
