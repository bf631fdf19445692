package validators

import (
	"strings"

	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
)

// MaxReferenceLen bounds gateway references accepted from clients.
const MaxReferenceLen = 64

// SanitizeReference trims a client-supplied gateway reference and rejects
// anything outside [A-Za-z0-9_-]. References are matched byte for byte, so
// nothing is rewritten beyond surrounding whitespace.
func SanitizeReference(input string) (string, error) {
	ref := strings.TrimSpace(input)
	if ref == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gatewayReference is required")
	}
	if len(ref) > MaxReferenceLen || !isReference(ref) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "gatewayReference is malformed").
			WithDetails(map[string]any{"field": "gatewayReference"})
	}
	return ref, nil
}

func isReference(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
