package agent

import (
	"regexp"

	"github.com/agentcore/runtime/pkg/models"
)

// ToolResultGuard redacts and truncates tool results before they are
// persisted to conversation history, grounded on the teacher's
// ToolResultGuardConfig shape (internal/config/config_tools.go) but
// reworked as a standalone value with no dependency on the deleted
// internal/tools/policy resolver.
type ToolResultGuard struct {
	Enabled         bool
	MaxChars        int
	Denylist        []string // tool name patterns; matched results are fully redacted
	RedactPatterns  []string // regexps applied to surviving content
	RedactionText   string
	TruncateSuffix  string
	SanitizeSecrets bool // applies the builtin secret-looking-value patterns

	compiled     []*regexp.Regexp
	compiledOnce bool
}

var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|password|token)\s*[:=]\s*\S+`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{10,}=*`),
}

func (g *ToolResultGuard) active() bool {
	return g != nil && g.Enabled
}

func (g *ToolResultGuard) patterns() []*regexp.Regexp {
	if g.compiledOnce {
		return g.compiled
	}
	g.compiledOnce = true
	for _, p := range g.RedactPatterns {
		if re, err := regexp.Compile(p); err == nil {
			g.compiled = append(g.compiled, re)
		}
	}
	return g.compiled
}

func (g *ToolResultGuard) redactionText() string {
	if g.RedactionText != "" {
		return g.RedactionText
	}
	return "[redacted]"
}

// Apply redacts or truncates a single tool result. Callers pass a zero
// value ToolResultGuard (inactive) when no guard is configured.
func (g ToolResultGuard) Apply(toolName string, result models.ToolResult) models.ToolResult {
	if !g.active() {
		return result
	}

	for _, pattern := range g.Denylist {
		if matchToolPattern(pattern, toolName) {
			result.Content = g.redactionText()
			return result
		}
	}

	content := result.Content
	if g.SanitizeSecrets {
		for _, re := range builtinSecretPatterns {
			content = re.ReplaceAllString(content, g.redactionText())
		}
	}
	for _, re := range g.patterns() {
		content = re.ReplaceAllString(content, g.redactionText())
	}

	if g.MaxChars > 0 && len(content) > g.MaxChars {
		suffix := g.TruncateSuffix
		if suffix == "" {
			suffix = "...[truncated]"
		}
		cut := g.MaxChars - len(suffix)
		if cut < 0 {
			cut = 0
		}
		content = content[:cut] + suffix
	}

	result.Content = content
	return result
}

// ApplyAll redacts a batch of tool results, matching each to its
// originating tool call by ID (falling back to positional order).
func (g ToolResultGuard) ApplyAll(toolCalls []models.ToolCall, results []models.ToolResult) []models.ToolResult {
	if !g.active() || len(results) == 0 {
		return results
	}

	namesByID := make(map[string]string, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.ID != "" {
			namesByID[tc.ID] = tc.Name
		}
	}

	guarded := make([]models.ToolResult, len(results))
	for i, res := range results {
		toolName := namesByID[res.ToolCallID]
		if toolName == "" && i < len(toolCalls) {
			toolName = toolCalls[i].Name
		}
		guarded[i] = g.Apply(toolName, res)
	}
	return guarded
}
