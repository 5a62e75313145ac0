package templatefmt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"
)

// FuncMap returns shared narrative template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"json":      MarshalJSON,
		"join":      Join,
		"or_else":   OrElse,
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"trim":      strings.TrimSpace,
		"fmtNumber": FormatNumber,
	}
}

// ParseNarrativeTemplate parses one narrative template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNarrativeTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Placeholders lists top-level field names referenced by template.
// Params: parsed template.
// Returns: sorted unique names referenced as {{.name}} outside range/with bodies or as {{$.name}} anywhere.
func Placeholders(tmpl *template.Template) []string {
	if tmpl == nil || tmpl.Tree == nil || tmpl.Tree.Root == nil {
		return nil
	}
	seen := make(map[string]struct{})
	collectNode(tmpl.Tree.Root, seen, false)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// collectNode walks one parse node; rebound is true inside range/with bodies,
// where only $-rooted fields still address the top-level data.
func collectNode(node parse.Node, seen map[string]struct{}, rebound bool) {
	switch typed := node.(type) {
	case *parse.ListNode:
		if typed == nil {
			return
		}
		for _, child := range typed.Nodes {
			collectNode(child, seen, rebound)
		}
	case *parse.ActionNode:
		collectPipe(typed.Pipe, seen, rebound)
	case *parse.IfNode:
		collectPipe(typed.Pipe, seen, rebound)
		collectNode(typed.List, seen, rebound)
		collectNode(typed.ElseList, seen, rebound)
	case *parse.RangeNode:
		collectPipe(typed.Pipe, seen, rebound)
		collectNode(typed.List, seen, true)
		collectNode(typed.ElseList, seen, rebound)
	case *parse.WithNode:
		collectPipe(typed.Pipe, seen, rebound)
		collectNode(typed.List, seen, true)
		collectNode(typed.ElseList, seen, rebound)
	case *parse.TemplateNode:
		collectPipe(typed.Pipe, seen, rebound)
	}
}

func collectPipe(pipe *parse.PipeNode, seen map[string]struct{}, rebound bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			collectArg(arg, seen, rebound)
		}
	}
}

func collectArg(arg parse.Node, seen map[string]struct{}, rebound bool) {
	switch typed := arg.(type) {
	case *parse.FieldNode:
		if !rebound && len(typed.Ident) > 0 {
			seen[typed.Ident[0]] = struct{}{}
		}
	case *parse.VariableNode:
		if len(typed.Ident) > 1 && typed.Ident[0] == "$" {
			seen[typed.Ident[1]] = struct{}{}
		}
	case *parse.ChainNode:
		collectArg(typed.Node, seen, rebound)
	case *parse.PipeNode:
		collectPipe(typed, seen, rebound)
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

// Join concatenates string slices for templates.
// Params: separator and list value ([]string or string).
// Returns: joined text.
func Join(sep string, value any) string {
	switch typed := value.(type) {
	case []string:
		return strings.Join(typed, sep)
	case string:
		return typed
	default:
		return ""
	}
}

// OrElse returns value unless it is empty.
// Params: fallback text and candidate value.
// Returns: candidate or fallback.
func OrElse(fallback string, value any) string {
	text := fmt.Sprint(value)
	if value == nil || strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

// FormatNumber renders a numeric string with trimmed precision.
// Params: value as string or float64.
// Returns: compact number text, or input text when it is not numeric.
func FormatNumber(value any) string {
	switch typed := value.(type) {
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return typed
		}
		return strconv.FormatFloat(parsed, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}
