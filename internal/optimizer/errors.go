package optimizer

import "fmt"

// ConfigurationError reports missing or malformed operator configuration
// (goal ratios, weight sets). It is never defaulted away.
type ConfigurationError struct {
	Reason string
	Key    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error: " + e.Reason
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientFetchError wraps a failed store read. The engine does not retry.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }
