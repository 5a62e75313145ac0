package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pathfinder/internal/config"
)

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// Condition is one compiled selector predicate.
// Params: value source, field name, operator, operands, compiled regex for match/wildcard.
// Returns: predicate evaluated by the classifier.
type Condition struct {
	Source string
	Field  string
	Op     string
	Values []string
	N      float64
	Max    float64
	re     *regexp.Regexp
}

// CompileCondition compiles one validated condition config.
// Params: condition config.
// Returns: compiled condition or regex error.
func CompileCondition(cfg config.ConditionConfig) (Condition, error) {
	cond := Condition{
		Source: cfg.Source,
		Field:  cfg.Field,
		Op:     cfg.Op,
		Values: append([]string(nil), cfg.Value...),
	}
	if cfg.N != nil {
		cond.N = *cfg.N
	}
	if cfg.Max != nil {
		cond.Max = *cfg.Max
	}
	switch cond.Op {
	case "match":
		compiled, err := regexp.Compile(cond.Values[0])
		if err != nil {
			return Condition{}, fmt.Errorf("invalid match regex: %w", err)
		}
		cond.re = compiled
	case "*":
		compiled, err := config.CompileWildcardPattern(cond.Values[0])
		if err != nil {
			return Condition{}, fmt.Errorf("invalid wildcard pattern: %w", err)
		}
		cond.re = compiled
	}
	return cond, nil
}

// Match evaluates the predicate against one value.
// Params: value resolved from the condition source.
// Returns: match flag and named regex groups for op "match".
func (c Condition) Match(value string) (bool, map[string]string) {
	switch c.Op {
	case "==":
		return strings.EqualFold(value, c.Values[0]), nil
	case "!=":
		return !strings.EqualFold(value, c.Values[0]), nil
	case "prefix":
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(c.Values[0])), nil
	case "contains":
		return strings.Contains(strings.ToLower(value), strings.ToLower(c.Values[0])), nil
	case "in":
		return containsStringInsensitive(c.Values, value), nil
	case "match":
		groups := c.re.FindStringSubmatch(value)
		if groups == nil {
			return false, nil
		}
		return true, namedGroups(c.re, groups)
	case "*":
		return c.re.MatchString(strings.ToLower(value)), nil
	case ">", ">=", "<", "<=", "between":
		number, ok := ParseNumber(value)
		if !ok {
			return false, nil
		}
		return c.compareNumber(number), nil
	}
	return false, nil
}

// compareNumber applies numeric operators.
func (c Condition) compareNumber(lhs float64) bool {
	switch c.Op {
	case ">":
		return lhs > c.N
	case ">=":
		return lhs >= c.N
	case "<":
		return lhs < c.N
	case "<=":
		return lhs <= c.N
	case "between":
		return lhs >= c.N && lhs <= c.Max
	}
	return false
}

// ParseNumber reinterprets the first decimal number inside a captured value.
// Params: text such as "MCH300", "65W", "-12.5".
// Returns: number and ok flag.
func ParseNumber(value string) (float64, bool) {
	match := numberPattern.FindString(value)
	if match == "" {
		return 0, false
	}
	number, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return number, true
}

// namedGroups maps non-empty named submatches.
func namedGroups(re *regexp.Regexp, groups []string) map[string]string {
	var out map[string]string
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(groups) || groups[i] == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = groups[i]
	}
	return out
}

// containsStringInsensitive checks case-insensitive membership.
// Params: haystack string list and expected value.
// Returns: true when case-insensitive match exists.
func containsStringInsensitive(values []string, expected string) bool {
	for _, v := range values {
		if strings.EqualFold(v, expected) {
			return true
		}
	}
	return false
}
