package pipeline

import (
	"errors"
	"fmt"
)

// Error codes, mapped to HTTP statuses at the API boundary.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidScenario       = "INVALID_SCENARIO"
	CodeInvalidActionType     = "INVALID_ACTION_TYPE"
	CodeNoEligibleActions     = "NO_ELIGIBLE_ACTIONS"
	CodeSkillTimeout          = "SKILL_TIMEOUT"
	CodeExecutionError        = "EXECUTION_ERROR"
	CodeSkillValidationFailed = "SKILL_VALIDATION_FAILED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error is a terminal pipeline failure with a machine-readable code.
// Non-terminal failures (stages 6 and 7) never become an Error; they are
// converted into fallback reason codes instead.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a pipeline error.
func E(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches the details map.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the code from any error, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}
