package scan

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"pathfinder/internal/config"
	"pathfinder/internal/domain"
	"pathfinder/internal/logging"
)

// Direction selects how a policy walks the log.
type Direction string

const (
	// Backward walks from target-1 towards the log start until a start or stop marker.
	Backward Direction = config.ScanDirectionBackward
	// Forward locates the nearest anchor behind the target and walks forward to the target.
	Forward Direction = config.ScanDirectionForward
)

// Policy is one named scan policy.
// Params: direction, start/stop/interest/skip marker patterns, optional line limit (0 = unlimited).
// Returns: reusable scan configuration.
type Policy struct {
	Name      string
	Direction Direction
	Start     []Pattern
	Stop      []Pattern
	Interest  []Pattern
	Skip      []Pattern
	MaxLines  int
}

// CompilePolicies builds policies from config in order.
// Params: scan policy configs.
// Returns: policies or pattern error.
func CompilePolicies(configs []config.ScanPolicyConfig) ([]Policy, error) {
	policies := make([]Policy, 0, len(configs))
	for _, cfg := range configs {
		policy, err := CompilePolicy(cfg)
		if err != nil {
			return nil, fmt.Errorf("scan.%s: %w", cfg.Name, err)
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

// CompilePolicy builds one policy from config.
// Params: scan policy config.
// Returns: policy or pattern error.
func CompilePolicy(cfg config.ScanPolicyConfig) (Policy, error) {
	policy := Policy{
		Name:      cfg.Name,
		Direction: Direction(cfg.Direction),
		MaxLines:  cfg.MaxLines,
	}
	var err error
	if policy.Start, err = newPatterns(cfg.Start); err != nil {
		return Policy{}, err
	}
	if policy.Stop, err = newPatterns(cfg.Stop); err != nil {
		return Policy{}, err
	}
	if policy.Interest, err = newPatterns(cfg.Interest); err != nil {
		return Policy{}, err
	}
	if policy.Skip, err = newPatterns(cfg.Skip); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func newPatterns(raw []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, text := range raw {
		pattern, err := NewPattern(text)
		if err != nil {
			return nil, err
		}
		out = append(out, pattern)
	}
	return out, nil
}

// Scan collects the context window of one failure under a policy.
// Params: indexed log lines, failure line index, policy, placeholder values for markers, optional logger for trace output.
// Returns: window; empty with BoundaryInvalid when the target or markers are unusable.
func Scan(lines []domain.LogLine, target int, policy Policy, vars map[string]string, logger *slog.Logger) domain.ContextWindow {
	invalid := domain.ContextWindow{Policy: policy.Name, Target: target, Boundary: domain.BoundaryInvalid}
	if target < 0 || target >= len(lines) {
		return invalid
	}
	start, err := compileAll(policy.Start, vars)
	if err != nil {
		return invalid
	}
	stop, err := compileAll(policy.Stop, vars)
	if err != nil {
		return invalid
	}
	skip, err := compileAll(policy.Skip, vars)
	if err != nil {
		return invalid
	}

	tr := tracer{logger: logger, policy: policy.Name}
	var window domain.ContextWindow
	if policy.Direction == Forward {
		window = forward(lines, target, start, stop, skip, policy.Interest, vars, policy.MaxLines, tr)
	} else {
		interest, err := compileAll(policy.Interest, vars)
		if err != nil {
			return invalid
		}
		window = backward(lines, target, start, stop, interest, skip, policy.MaxLines, tr)
	}
	window.Policy = policy.Name
	tr.done(window)
	return window
}

// ScanBackward runs the plain backward scan with pre-compiled markers.
// Params: lines, failure index, start markers, stop markers, interest patterns.
// Returns: window from the nearest start marker (or the line after a stop marker) to the target, or empty window.
func ScanBackward(lines []domain.LogLine, target int, start, stop, interest []*regexp.Regexp) domain.ContextWindow {
	if target < 0 || target >= len(lines) {
		return domain.ContextWindow{Target: target, Boundary: domain.BoundaryInvalid}
	}
	return backward(lines, target, start, stop, interest, nil, 0, tracer{})
}

// backward walks from target-1 towards index 0.
// Params: lines, target, compiled markers, line limit, tracer.
// Returns: window closed by a start marker (line included) or a stop marker (line excluded); empty when the walk runs out.
func backward(lines []domain.LogLine, target int, start, stop, interest, skip []*regexp.Regexp, maxLines int, tr tracer) domain.ContextWindow {
	window := domain.ContextWindow{Target: target, Boundary: domain.BoundaryExhausted}
	var found []domain.Interest
	for i := target - 1; i >= 0; i-- {
		if maxLines > 0 && target-i > maxLines {
			break
		}
		text := lines[i].Text
		if firstMatch(skip, text) != nil {
			tr.line(lines[i].Index, "skip")
			continue
		}
		if firstMatch(stop, text) != nil {
			tr.line(lines[i].Index, "stop")
			window.Boundary = domain.BoundaryStop
			window.Lines = lines[i+1 : target+1]
			window.Interest = reverse(found)
			window.Captures = mergeCaptures(nil, window.Interest)
			return window
		}
		if re, groups := firstSubmatch(start, text); re != nil {
			tr.line(lines[i].Index, "start")
			window.Boundary = domain.BoundaryStart
			window.Lines = lines[i : target+1]
			window.Interest = reverse(found)
			window.Captures = mergeCaptures(namedGroups(re, groups), window.Interest)
			return window
		}
		if re, groups := firstSubmatch(interest, text); re != nil {
			tr.line(lines[i].Index, "interest")
			found = append(found, domain.Interest{
				Index:  lines[i].Index,
				Match:  groups[0],
				Line:   text,
				Groups: namedGroups(re, groups),
			})
		}
	}
	return window
}

// forward finds the nearest anchor behind target and walks forward to the target.
// Params: lines, target, anchors (start markers), stop and skip markers, interest templates, vars, limit, tracer.
// Returns: window from the anchor to the target; an earlier anchor occurrence is never part of it.
func forward(lines []domain.LogLine, target int, anchors, stop, skip []*regexp.Regexp, interestPatterns []Pattern, vars map[string]string, maxLines int, tr tracer) domain.ContextWindow {
	window := domain.ContextWindow{Target: target, Boundary: domain.BoundaryExhausted}
	anchorIdx := -1
	var anchorCaptures map[string]string
	for i := target - 1; i >= 0; i-- {
		if maxLines > 0 && target-i > maxLines {
			break
		}
		text := lines[i].Text
		if firstMatch(skip, text) != nil {
			tr.line(lines[i].Index, "skip")
			continue
		}
		if firstMatch(stop, text) != nil {
			tr.line(lines[i].Index, "stop")
			window.Boundary = domain.BoundaryStop
			return window
		}
		if re, groups := firstSubmatch(anchors, text); re != nil {
			tr.line(lines[i].Index, "anchor")
			anchorIdx = i
			anchorCaptures = namedGroups(re, groups)
			break
		}
	}
	if anchorIdx < 0 {
		return window
	}

	scoped := make(map[string]string, len(vars)+len(anchorCaptures))
	for key, value := range vars {
		scoped[key] = value
	}
	for key, value := range anchorCaptures {
		scoped[key] = value
	}
	interest, err := compileAll(interestPatterns, scoped)
	if err != nil {
		window.Boundary = domain.BoundaryInvalid
		return window
	}

	var found []domain.Interest
	for i := anchorIdx + 1; i <= target; i++ {
		text := lines[i].Text
		if firstMatch(skip, text) != nil {
			tr.line(lines[i].Index, "skip")
			continue
		}
		if re, groups := firstSubmatch(interest, text); re != nil {
			tr.line(lines[i].Index, "interest")
			found = append(found, domain.Interest{
				Index:  lines[i].Index,
				Match:  groups[0],
				Line:   text,
				Groups: namedGroups(re, groups),
			})
		}
	}

	window.Boundary = domain.BoundaryStart
	window.Lines = lines[anchorIdx : target+1]
	window.Interest = found
	window.Captures = mergeCaptures(anchorCaptures, found)
	return window
}

func firstMatch(patterns []*regexp.Regexp, text string) *regexp.Regexp {
	for _, re := range patterns {
		if re.MatchString(text) {
			return re
		}
	}
	return nil
}

func firstSubmatch(patterns []*regexp.Regexp, text string) (*regexp.Regexp, []string) {
	for _, re := range patterns {
		if groups := re.FindStringSubmatch(text); groups != nil {
			return re, groups
		}
	}
	return nil, nil
}

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

// mergeCaptures layers interest groups (chronological, later wins) over marker groups.
func mergeCaptures(marker map[string]string, interest []domain.Interest) map[string]string {
	var out map[string]string
	put := func(key, value string) {
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = value
	}
	for key, value := range marker {
		put(key, value)
	}
	for _, item := range interest {
		for key, value := range item.Groups {
			put(key, value)
		}
	}
	return out
}

func reverse(items []domain.Interest) []domain.Interest {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.Interest, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}

// tracer logs per-line scan decisions at trace level.
type tracer struct {
	logger *slog.Logger
	policy string
}

func (t tracer) enabled() bool {
	return t.logger != nil && t.logger.Enabled(context.Background(), logging.LevelTrace)
}

func (t tracer) line(index int, decision string) {
	if !t.enabled() {
		return
	}
	t.logger.Log(context.Background(), logging.LevelTrace, "scan line", "policy", t.policy, "line", index, "decision", decision)
}

func (t tracer) done(window domain.ContextWindow) {
	if !t.enabled() {
		return
	}
	t.logger.Log(context.Background(), logging.LevelTrace, "scan finished",
		"policy", t.policy,
		"target", window.Target,
		"boundary", string(window.Boundary),
		"start", window.Start(),
		"interest", len(window.Interest),
	)
}
