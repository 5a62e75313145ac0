package ingest

import (
	"regexp"
	"strings"

	"pathfinder/internal/domain"
)

const (
	evalMarker   = "EvalAndLogResults"
	failedMarker = "\t* FAILED *"
)

// Tab-separated column positions of an EvalAndLogResults record.
const (
	colTestName    = 5
	colDescription = 9
	colLimitLow    = 10
	colLimitHigh   = 11
	colValue       = 12
	colStatus      = 16
	colErrorMsg    = 17
	colMeasCode    = 22
)

var (
	detailsPattern       = regexp.MustCompile(`Details:\s*(.*?)(?:\s*Error code:|$)`)
	errorCodePattern     = regexp.MustCompile(`Error code:\s*(-?\w+)`)
	errorCodeNamePattern = regexp.MustCompile(`Error code name:\s*(\S+)`)
)

// IsFailureLine reports whether a line is a failed EvalAndLogResults record.
func IsFailureLine(text string) bool {
	return strings.Contains(text, evalMarker) && strings.Contains(text, failedMarker)
}

// ParseFailure decodes one failed EvalAndLogResults record.
// Params: indexed log line.
// Returns: failure and ok=false when the line is not a failure record.
func ParseFailure(line domain.LogLine) (domain.Failure, bool) {
	if !IsFailureLine(line.Text) {
		return domain.Failure{}, false
	}
	columns := strings.Split(line.Text, "\t")
	failure := domain.Failure{
		Index:       line.Index,
		TestName:    column(columns, colTestName),
		Description: column(columns, colDescription),
		LimitLow:    column(columns, colLimitLow),
		LimitHigh:   column(columns, colLimitHigh),
		Value:       column(columns, colValue),
		Status:      column(columns, colStatus),
		ErrorMsg:    column(columns, colErrorMsg),
		MeasCode:    column(columns, colMeasCode),
	}
	if match := detailsPattern.FindStringSubmatch(failure.ErrorMsg); match != nil {
		failure.Details = strings.TrimSpace(match[1])
	}
	if match := errorCodePattern.FindStringSubmatch(failure.ErrorMsg); match != nil {
		failure.ErrorCode = match[1]
	}
	if match := errorCodeNamePattern.FindStringSubmatch(failure.ErrorMsg); match != nil {
		failure.ErrorCodeName = match[1]
	}
	return failure, true
}

// FindFailures locates every failed record in log order.
// Params: indexed log lines.
// Returns: failures (possibly empty).
func FindFailures(lines []domain.LogLine) []domain.Failure {
	var out []domain.Failure
	for _, line := range lines {
		if failure, ok := ParseFailure(line); ok {
			out = append(out, failure)
		}
	}
	return out
}

// FailureFor returns the first failure whose test name matches the identifier.
// Params: indexed log lines and normalized identifier.
// Returns: failure and presence flag.
func FailureFor(lines []domain.LogLine, normalized string) (domain.Failure, bool) {
	for _, line := range lines {
		if !IsFailureLine(line.Text) {
			continue
		}
		failure, ok := ParseFailure(line)
		if !ok {
			continue
		}
		name, err := domain.Normalize(failure.TestName)
		if err != nil {
			continue
		}
		if name == normalized {
			return failure, true
		}
	}
	return domain.Failure{}, false
}

func column(columns []string, idx int) string {
	if idx >= len(columns) {
		return ""
	}
	return strings.TrimSpace(columns[idx])
}
