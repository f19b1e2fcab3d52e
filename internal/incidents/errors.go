package incidents

import "errors"

// Repository errors. Conditional writes resolve to one of these instead of a
// driver-specific failure.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrIncidentExists   = errors.New("incident already exists")
)
