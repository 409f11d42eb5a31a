// Package validation provides validation rules for filter rule drafts and request parameters.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

const (
	// MaxNameLength is the maximum length for rule names
	MaxNameLength = 120
	// MaxChannelLength is the maximum length for source and destination identifiers
	MaxChannelLength = 256
	// MaxInstructionLength is the maximum length for the AI system instruction
	MaxInstructionLength = 4000
	// MaxModelLength is the maximum length for the AI model name
	MaxModelLength = 128
	// MaxTreeNodes is the maximum number of nodes in a filter tree
	MaxTreeNodes = 1000
	// MaxValueLength is the maximum length of a condition operand
	MaxValueLength = 1000
	// MaxMessageLength is the maximum length of a message submitted for evaluation
	MaxMessageLength = 16 * 1024
)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid.
// The first message recorded for a field wins.
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	if _, exists := v.Errors[field]; !exists {
		v.Errors[field] = message
	}
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// ruleParams is the validator view of a FilterRule's scalar fields.
type ruleParams struct {
	Name              string `json:"name" validate:"max=120"`
	Source            string `json:"source" validate:"max=256"`
	Destination       string `json:"destination" validate:"max=256"`
	DeliveryMethod    string `json:"delivery_method" validate:"omitempty,oneof=forward copy"`
	AIEnabled         bool   `json:"ai_config.enabled"`
	SystemInstruction string `json:"ai_config.system_instruction" validate:"required_if=AIEnabled true,max=4000"`
	Model             string `json:"ai_config.model" validate:"max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRule validates the scalar fields and the tree of a rule draft.
func ValidateRule(r rules.FilterRule) *ValidationResult {
	result := NewValidationResult()

	err := validate.Struct(ruleParams{
		Name:              r.Name,
		Source:            r.Source,
		Destination:       r.Destination,
		DeliveryMethod:    string(r.DeliveryMethod),
		AIEnabled:         r.AIConfig.Enabled,
		SystemInstruction: r.AIConfig.SystemInstruction,
		Model:             r.AIConfig.Model,
	})
	result.Merge(fromValidatorError(err))
	result.Merge(ValidateFilters(r.Filters))
	return result
}

// ValidateFilters validates a filter tree: structure, size and operand
// length. Unknown fields and comparators are accepted; they never match.
func ValidateFilters(root rules.LogicNode) *ValidationResult {
	result := NewValidationResult()

	if err := rules.ValidateTree(root); err != nil {
		result.AddError("filters", err.Error())
		return result
	}

	nodes := 0
	rules.Walk(root, func(p rules.Path, n rules.LogicNode) bool {
		nodes++
		if nodes > MaxTreeNodes {
			result.AddError("filters", fmt.Sprintf("Filter tree must not exceed %d nodes", MaxTreeNodes))
			return false
		}
		if !n.IsGroup() && len(n.Value) > MaxValueLength {
			result.AddError("filters", fmt.Sprintf("Condition value at %s must not exceed %d characters", p, MaxValueLength))
			return false
		}
		return true
	})
	return result
}

// ValidateMessageText validates text submitted for evaluation or analysis.
func ValidateMessageText(text string) *ValidationResult {
	result := NewValidationResult()
	if len(text) > MaxMessageLength {
		result.AddError("message_text", "Message must not exceed 16KB")
	}
	return result
}

// ValidatePrompt validates a natural-language prompt for the generator.
func ValidatePrompt(prompt string) *ValidationResult {
	result := NewValidationResult()
	if strings.TrimSpace(prompt) == "" {
		result.AddError("prompt", "Prompt is required")
		return result
	}
	if len(prompt) > MaxInstructionLength {
		result.AddError("prompt", "Prompt must not exceed 4000 characters")
	}
	return result
}

func fromValidatorError(err error) *ValidationResult {
	result := NewValidationResult()
	if err == nil {
		return result
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		result.AddError("_", err.Error())
		return result
	}
	for _, fe := range verrs {
		result.AddError(fe.Field(), message(fe))
	}
	return result
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("Must not exceed %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "required_if":
		return "Required when AI refinement is enabled"
	default:
		return fmt.Sprintf("Failed %s validation", fe.Tag())
	}
}
