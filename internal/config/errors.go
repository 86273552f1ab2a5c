package config

import "fmt"

// ConfigurationError describes one invalid value that was replaced by its default.
type ConfigurationError struct {
	Field   string
	Value   interface{}
	Default interface{}
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Default == nil {
		return fmt.Sprintf("config %s=%v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("config %s=%v: %s, using default %v", e.Field, e.Value, e.Reason, e.Default)
}

// InvalidTargetError is returned for target URLs rejected before any network call.
type InvalidTargetError struct {
	Target string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", e.Target, e.Reason)
}
