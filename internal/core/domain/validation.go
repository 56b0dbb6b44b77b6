package domain

import (
	"errors"
	"regexp"
)

// Validation Helpers

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_.:]*$`)

	ErrInvalidControl     = errors.New("malformed control record")
	ErrInvalidRequirement = errors.New("malformed requirement record")
)

// IsValidID checks if the string is a safe entity identifier.
func IsValidID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	return idRegex.MatchString(id)
}

// ValidateControl checks that a control snapshot is well-formed enough to
// score. Malformed controls are skipped and logged; the batch continues.
func ValidateControl(c Control) error {
	if !IsValidID(c.ID) || c.OrganizationID == "" {
		return ErrInvalidControl
	}
	return nil
}

// ValidateRequirement checks that a requirement is well-formed enough to
// score against.
func ValidateRequirement(r ComplianceRequirement) error {
	if !IsValidID(r.ID) || r.FrameworkID == "" {
		return ErrInvalidRequirement
	}
	return nil
}
