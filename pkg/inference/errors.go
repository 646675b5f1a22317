package inference

import "fmt"

// ValidationError reports invalid caller input, such as an empty question.
// It is raised before any state transition or network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ConfigurationError reports missing or unusable provider configuration,
// such as a missing API key. It is raised before any network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// TransportError reports a failed provider call: network failures, non-2xx
// statuses and malformed or provider-reported error responses. Session state
// is never mutated when one is raised.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
