package store

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern is the accepted shape of a table or column name.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// maxIdentifierLength bounds identifiers written into SQL text.
const maxIdentifierLength = 128

// ValidateIdentifier checks that name may be written into SQL text.
// what names the role ("table", "column") for the error message.
func ValidateIdentifier(what, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s name cannot be empty", ErrInvalidIdentifier, what)
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %s name longer than %d characters", ErrInvalidIdentifier, what, maxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %s name %q must start with a letter or underscore and contain only letters, digits and underscores",
			ErrInvalidIdentifier, what, name)
	}
	return nil
}

// quoteIdent returns name as a double-quoted SQL identifier.
// Only call with names that passed ValidateIdentifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
