package entities

import "fmt"

// ValidationError reports a record that fails a business rule
type ValidationError struct {
	EntityType string
	Rule       string // Rule name, empty for structural failures
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("%s is invalid: %s", e.EntityType, e.Message)
	}
	return fmt.Sprintf("%s failed rule %s: %s", e.EntityType, e.Rule, e.Message)
}
