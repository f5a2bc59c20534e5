// Package soql builds the read queries the proxy is allowed to run. Callers
// never supply query text: every value is parsed into a typed filter first
// and rendered back out by this package.
package soql

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
)

const maxLiteralLength = 255

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{15}([a-zA-Z0-9]{3})?$`)

// Quote renders s as a SOQL string literal. Backslashes and single quotes are
// escaped; control characters are rejected since SOQL has no safe encoding
// for them.
func Quote(s string) (string, error) {
	if len(s) > maxLiteralLength {
		return "", fmt.Errorf("%w: value longer than %d characters", apperrors.ErrQuery, maxLiteralLength)
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\'':
			b.WriteString(`\'`)
		case unicode.IsControl(r):
			return "", fmt.Errorf("%w: control characters are not allowed", apperrors.ErrQuery)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String(), nil
}

// ValidateID checks a Salesforce record ID (15 or 18 alphanumerics).
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed record id", apperrors.ErrQuery)
	}
	return nil
}
