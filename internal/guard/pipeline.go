// Package guard implements the ordered, short-circuiting policy pipeline
// evaluated before every agent run.
package guard

import (
	"sort"
	"strings"

	"github.com/agentcore/runtime/pkg/models"
)

// GuardCommand is the input to the pipeline: the caller, their text, and
// any informational metadata the stages may consult.
type GuardCommand struct {
	UserID   string
	Text     string
	Metadata map[string]any
}

// Stage is a single named, ordered policy check. Implementations MUST be
// safe for concurrent use across independent GuardCommand evaluations.
type Stage interface {
	Name() string
	Order() int
	Check(cmd GuardCommand) models.GuardResult
}

// Pipeline evaluates stages in ascending Order, stopping at the first
// rejection. Stages are sorted once, at construction time; ties between
// equal Order values are resolved by registration order (stable sort) but
// implementations must not rely on that.
type Pipeline struct {
	stages []Stage
}

// New builds a Pipeline from an unordered set of stages.
func New(stages ...Stage) *Pipeline {
	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return &Pipeline{stages: sorted}
}

// Evaluate runs every stage in order, returning the first Rejected result
// or Allowed if every stage passes. A stage panic is not recovered here;
// it propagates to the executor's own error boundary.
func (p *Pipeline) Evaluate(cmd GuardCommand) models.GuardResult {
	for _, stage := range p.stages {
		result := stage.Check(cmd)
		if !result.Allowed {
			if result.Stage == "" {
				result.Stage = stage.Name()
			}
			return result
		}
	}
	return models.GuardAllowed()
}

// trimmedLen mirrors the spec's "trimmed text length" wording used by both
// the rate-limit and input-validation stages.
func trimmedLen(text string) int {
	return len(strings.TrimSpace(text))
}
