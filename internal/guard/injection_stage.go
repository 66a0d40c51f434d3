package guard

import (
	"regexp"

	"github.com/agentcore/runtime/pkg/models"
)

// injectionPatterns matches common prompt-injection phrasing. Patterns
// operate on phrases, not bare keywords, so "what is the role of enzymes?"
// does not trip the "you are now"/"act as" family of checks.
//
// Built the way internal/policy's /send command regex is built: one
// MustCompile per pattern, case-insensitive, evaluated in order.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|forget|disregard)\b[^.?!]{0,40}\b(previous|prior)\b[^.?!]{0,20}\binstructions?\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(a|an|if)\b`),
	regexp.MustCompile(`(?i)\bpretend\s+you(\'re|\s+are)\b`),
	regexp.MustCompile(`(?i)\bfrom\s+now\s+on\b[^.?!]{0,40}\b(you|your)\b`),
	regexp.MustCompile(`(?i)\[\s*(system|SYSTEM)\s*\]`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\bdecode\s+(this|the\s+following)\s+base64\b`),
}

// InjectionDetectionConfig configures the injection-detection stage order.
type InjectionDetectionConfig struct {
	Order int
}

func DefaultInjectionDetectionConfig() InjectionDetectionConfig {
	return InjectionDetectionConfig{Order: 6}
}

// InjectionDetectionStage rejects prompts matching injectionPatterns.
type InjectionDetectionStage struct {
	cfg      InjectionDetectionConfig
	patterns []*regexp.Regexp
}

func NewInjectionDetectionStage(cfg InjectionDetectionConfig) *InjectionDetectionStage {
	return &InjectionDetectionStage{cfg: cfg, patterns: injectionPatterns}
}

func (s *InjectionDetectionStage) Name() string { return "injection_detection" }
func (s *InjectionDetectionStage) Order() int   { return s.cfg.Order }

func (s *InjectionDetectionStage) Check(cmd GuardCommand) models.GuardResult {
	for _, p := range s.patterns {
		if p.MatchString(cmd.Text) {
			return models.GuardRejected(
				"prompt contains a disallowed instruction-override pattern: matched previous instructions",
				models.GuardPromptInjection, s.Name())
		}
	}
	return models.GuardAllowed()
}
