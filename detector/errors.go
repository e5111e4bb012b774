package detector

import "fmt"

// ConfigurationError reports a missing or contradictory configuration. It is
// raised at construction or before any tensor computation starts, never
// silently defaulted.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func configErrorf(format string, args ...interface{}) error {
	return ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ShapeMismatchError reports disagreeing region counts between tensors that
// must stay positionally aligned.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s: want %d regions, got %d", e.What, e.Want, e.Got)
}
