package report

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"pathfinder/internal/clock"
	"pathfinder/internal/domain"

	"github.com/google/uuid"
)

// Record is one diagnosis handed to report assembly.
// Params: deterministic record id, run id, generation time, and diagnosis result.
// Returns: serializable report entry.
type Record struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Result      domain.Result `json:"result"`
}

// NewRunID returns a fresh identifier grouping records of one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// NewRecord wraps one result for publishing.
// Params: run id, clock, and diagnosis result.
// Returns: record with deterministic id.
func NewRecord(runID string, clk clock.Clock, result domain.Result) Record {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return Record{
		ID:          BuildRecordID(runID, result),
		RunID:       runID,
		GeneratedAt: clk.Now(),
		Result:      result,
	}
}

// BuildRecordID creates deterministic id for one diagnosis within a run.
// Params: run id and diagnosis result.
// Returns: stable SHA1-based id string used for publish de-duplication.
func BuildRecordID(runID string, result domain.Result) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%s|%d|%s|%s",
		runID,
		result.Identifier.Raw,
		result.Family,
		result.Rule,
		result.Target,
		result.Template,
		result.ContextTemplate,
	)
	sum := sha1.Sum([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
