package api

import (
	"errors"
	"fmt"
)

// Error kinds shared by the loaders, the steps and the flow orchestrator.
// Producers wrap them with fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	ErrConfigurationValidation = errors.New("configuration validation failed")
	ErrDryRunValidation        = errors.New("dry run validation failed")
	ErrTransmission            = errors.New("transmission failed")
	ErrUnsupportedValueType    = errors.New("unsupported value type")
	ErrUndefinedVariable       = errors.New("undefined template variable")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigurationValidation, fmt.Sprintf(format, args...))
}
