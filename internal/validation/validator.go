package validation

import (
	"strings"
	"unicode"

	"github.com/openblock/launcher/internal/errors"
)

const (
	// MaxNameLength bounds instance names so the derived directory path
	// stays well inside filesystem limits
	MaxNameLength = 64
)

// reservedNames are path components Windows refuses regardless of case
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {},
}

// Validator validates user-supplied launcher inputs
type Validator struct {
	maxNameLength int
}

// NewValidator creates a validator with default limits
func NewValidator() *Validator {
	return &Validator{maxNameLength: MaxNameLength}
}

// ValidateInstanceName checks that name is usable as a filesystem path
// component on every supported platform. Returns an InvalidName error
// describing the first violation found.
func (v *Validator) ValidateInstanceName(name string) error {
	if name == "" {
		return errors.InvalidName(name, "name cannot be empty")
	}
	if len(name) > v.maxNameLength {
		return errors.InvalidName(name, "name too long")
	}
	if strings.TrimSpace(name) != name {
		return errors.InvalidName(name, "name cannot begin or end with whitespace")
	}
	if strings.HasPrefix(name, ".") {
		return errors.InvalidName(name, "name cannot begin with a dot")
	}
	if strings.HasSuffix(name, ".") {
		return errors.InvalidName(name, "name cannot end with a dot")
	}
	if _, reserved := reservedNames[strings.ToLower(name)]; reserved {
		return errors.InvalidName(name, "name is reserved")
	}
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			return errors.InvalidName(name, "name contains a path-unsafe character")
		case r < 0x20:
			return errors.InvalidName(name, "name contains a control character")
		case !unicode.IsPrint(r):
			return errors.InvalidName(name, "name contains a non-printable character")
		}
	}
	return nil
}

// NormalizeInstanceName returns the case-insensitive uniqueness key for
// an instance name
func NormalizeInstanceName(name string) string {
	return strings.ToLower(name)
}
