package guard

import (
	"fmt"

	"github.com/agentcore/runtime/pkg/models"
)

// InputValidationConfig bounds acceptable prompt length.
type InputValidationConfig struct {
	MinLength int
	MaxLength int
	Order     int
}

// DefaultInputValidationConfig returns a 1..8000 character window.
func DefaultInputValidationConfig() InputValidationConfig {
	return InputValidationConfig{MinLength: 1, MaxLength: 8000, Order: 5}
}

// InputValidationStage rejects prompts whose trimmed length falls outside
// [MinLength, MaxLength].
type InputValidationStage struct {
	cfg InputValidationConfig
}

func NewInputValidationStage(cfg InputValidationConfig) *InputValidationStage {
	return &InputValidationStage{cfg: cfg}
}

func (s *InputValidationStage) Name() string { return "input_validation" }
func (s *InputValidationStage) Order() int   { return s.cfg.Order }

func (s *InputValidationStage) Check(cmd GuardCommand) models.GuardResult {
	length := trimmedLen(cmd.Text)
	if length < s.cfg.MinLength {
		return models.GuardRejected(
			fmt.Sprintf("input too short: %d characters (minimum %d)", length, s.cfg.MinLength),
			models.GuardInvalidInput, s.Name())
	}
	if length > s.cfg.MaxLength {
		return models.GuardRejected(
			fmt.Sprintf("input too long: %d characters (maximum %d)", length, s.cfg.MaxLength),
			models.GuardInvalidInput, s.Name())
	}
	return models.GuardAllowed()
}
