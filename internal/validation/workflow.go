package validation

import (
	"fmt"

	"github.com/buffrsign/engine/pkg/schema"
)

// ValidateCreation checks a workflow name and step list at creation time.
// All violations are collected so a caller sees every offending field at
// once; any error-severity issue aborts creation with nothing registered.
func ValidateCreation(name string, steps []schema.StepDescriptor) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if name == "" {
		result.AddError("/name", schema.ErrCodeValidation, "workflow name is empty")
	}
	if len(steps) == 0 {
		result.AddError("/steps", schema.ErrCodeValidation, "workflow has no steps")
	}

	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		path := fmt.Sprintf("/steps/%d", i)
		ValidateStep(path, step, result)
		if step.ID != "" {
			if _, dup := seen[step.ID]; dup {
				result.AddError(path+"/id", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate step id %q", step.ID))
			}
			seen[step.ID] = struct{}{}
		}
	}

	return result
}

// ValidateStep checks a single step descriptor, appending issues to result.
func ValidateStep(path string, step schema.StepDescriptor, result *schema.ValidationResult) {
	if step.ID == "" {
		result.AddError(path+"/id", schema.ErrCodeValidation, "step id is empty")
	}
	if step.Name == "" {
		result.AddError(path+"/name", schema.ErrCodeValidation, "step name is empty")
	}
	if !schema.IsValidStepType(step.Type) {
		result.AddError(path+"/type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown step type %q", step.Type))
	}
}
