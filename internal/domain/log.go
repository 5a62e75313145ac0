package domain

import "strings"

// LogLine is one raw log line with stable zero-based index.
type LogLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// NewLogLines indexes raw texts in order.
// Params: line texts as read from a log file.
// Returns: indexed lines.
func NewLogLines(texts []string) []LogLine {
	lines := make([]LogLine, len(texts))
	for i, text := range texts {
		lines[i] = LogLine{Index: i, Text: text}
	}
	return lines
}

// Boundary tells how a context scan terminated.
type Boundary string

const (
	// BoundaryStart marks scan ended at a start marker (window is populated).
	BoundaryStart Boundary = "start"
	// BoundaryStop marks scan ended at a stop marker.
	BoundaryStop Boundary = "stop"
	// BoundaryExhausted marks scan reached the beginning of the log or its line limit.
	BoundaryExhausted Boundary = "exhausted"
	// BoundaryInvalid marks target index outside the log or unusable policy.
	BoundaryInvalid Boundary = "invalid"
)

// Interest is one captured sub-match found while scanning.
// Params: line index, matched substring, full line, and named groups.
// Returns: diagnostic evidence entry in chronological order.
type Interest struct {
	Index  int               `json:"index"`
	Match  string            `json:"match"`
	Line   string            `json:"line"`
	Groups map[string]string `json:"groups,omitempty"`
}

// ContextWindow is the contiguous slice of log lines preceding a failure.
// Params: policy name, boundary kind, lines from start marker to failure, interest list, captures.
// Returns: secondary evidence for classification and rendering.
type ContextWindow struct {
	Policy   string            `json:"policy"`
	Target   int               `json:"target"`
	Boundary Boundary          `json:"boundary"`
	Lines    []LogLine         `json:"lines,omitempty"`
	Interest []Interest        `json:"interest,omitempty"`
	Captures map[string]string `json:"captures,omitempty"`
}

// Empty reports whether the window holds no lines.
func (w *ContextWindow) Empty() bool {
	return w == nil || len(w.Lines) == 0
}

// Start returns index of the earliest line in window.
// Params: none.
// Returns: zero-based line index or -1 for empty window.
func (w *ContextWindow) Start() int {
	if w.Empty() {
		return -1
	}
	return w.Lines[0].Index
}

// End returns index of the last line in window, or -1 for empty window.
func (w *ContextWindow) End() int {
	if w.Empty() {
		return -1
	}
	return w.Lines[len(w.Lines)-1].Index
}

// InterestTexts returns matched substrings in chronological order.
func (w *ContextWindow) InterestTexts() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.Interest))
	for _, item := range w.Interest {
		out = append(out, item.Match)
	}
	return out
}

// JoinedInterest joins interest substrings by newline.
func (w *ContextWindow) JoinedInterest() string {
	return strings.Join(w.InterestTexts(), "\n")
}
