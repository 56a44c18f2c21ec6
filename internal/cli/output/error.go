package output

// StructuredError is a CLI error with a machine-readable code.
type StructuredError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`

	// Guidance explains the likely cause.
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// RecoveryCommand suggests a command that fixes the problem.
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeToolNotFound        = "TOOL_NOT_FOUND"
	ErrCodeManifestInvalid     = "MANIFEST_INVALID"
	ErrCodeLaunchFailed        = "LAUNCH_FAILED"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// NewStructuredError creates a StructuredError.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

// WithGuidance returns a copy with guidance set.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand returns a copy with a recovery command set.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext returns a copy carrying key=value in its context.
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// FromError wraps err under code unless it already is a StructuredError.
func FromError(err error, code string) StructuredError {
	if se, ok := err.(StructuredError); ok {
		return se
	}
	return StructuredError{Code: code, Message: err.Error()}
}
