// Package signature computes and verifies HMAC-SHA512 signatures over a
// canonical serialization of string fields. Codecs are immutable and safe for
// concurrent use.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	pairDelimiter  = "&"
	keyValueJoiner = "="
)

// valueEscaper percent-encodes the delimiters inside values, plus "%" itself,
// so distinct field sets never share a canonical form.
var valueEscaper = strings.NewReplacer("%", "%25", pairDelimiter, "%26", keyValueJoiner, "%3D")

var (
	ErrEmptySecret  = errors.New("signature secret is empty")
	ErrMissingField = errors.New("required signature field missing")
	ErrInvalidKey   = errors.New("signature field key invalid")
)

// Secret is a signing key. It never renders its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Fields are the name/value pairs covered by a signature.
type Fields map[string]string

// Without returns a copy of f minus the named keys.
func (f Fields) Without(keys ...string) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Codec signs field sets that must contain every required key.
type Codec struct {
	required []string
}

func NewCodec(required ...string) *Codec {
	req := append([]string(nil), required...)
	sort.Strings(req)
	return &Codec{required: req}
}

// Canonical renders fields sorted byte-wise by key as key=value pairs joined
// by "&". Values have "%", "&" and "=" percent-encoded; keys may not hold a
// delimiter at all.
func (c *Codec) Canonical(fields Fields) (string, error) {
	for _, key := range c.required {
		if strings.TrimSpace(fields[key]) == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key == "" || strings.ContainsAny(key, pairDelimiter+keyValueJoiner) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteString(pairDelimiter)
		}
		b.WriteString(key)
		b.WriteString(keyValueJoiner)
		b.WriteString(valueEscaper.Replace(fields[key]))
	}
	return b.String(), nil
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical form.
func (c *Codec) Sign(fields Fields, secret Secret) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	canonical, err := c.Canonical(fields)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac(canonical, secret)), nil
}

// Verify reports whether signature matches fields. Malformed signatures,
// incomplete field sets and empty secrets all yield false.
func (c *Codec) Verify(fields Fields, signature string, secret Secret) bool {
	if secret == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) != sha512.Size {
		return false
	}
	canonical, err := c.Canonical(fields)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(canonical, secret), provided)
}

func mac(canonical string, secret Secret) []byte {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(canonical))
	return h.Sum(nil)
}
