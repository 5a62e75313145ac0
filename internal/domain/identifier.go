package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Delimiter separates identifier segments.
const Delimiter = "_"

// ErrMalformedIdentifier marks identifiers that cannot be normalized or segmented.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// Identifier is one test-item code in raw and normalized form.
// Params: raw input string and its normalized uppercase form.
// Returns: immutable identifier value for extraction and classification.
type Identifier struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
}

// ParseIdentifier normalizes one raw test-item code.
// Params: raw identifier as found in the test report.
// Returns: identifier or ErrMalformedIdentifier wrapped with the reason.
func ParseIdentifier(raw string) (Identifier, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return Identifier{Raw: raw}, err
	}
	return Identifier{Raw: raw, Normalized: normalized}, nil
}

// Normalize uppercases the identifier and replaces whitespace with the delimiter.
// Params: raw identifier string.
// Returns: normalized identifier or malformed error.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedIdentifier)
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	hasSegment := false
	for _, r := range trimmed {
		switch {
		case unicode.IsSpace(r):
			b.WriteString(Delimiter)
		case r > unicode.MaxASCII || r < 0x20 || r == 0x7f:
			return "", fmt.Errorf("%w: unsupported character %q", ErrMalformedIdentifier, r)
		default:
			if string(r) != Delimiter {
				hasSegment = true
			}
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if !hasSegment {
		return "", fmt.Errorf("%w: no segments in %q", ErrMalformedIdentifier, raw)
	}
	return b.String(), nil
}

// Segments splits normalized identifier into delimiter-separated parts.
// Params: none.
// Returns: non-empty segments in original order.
func (id Identifier) Segments() []string {
	parts := strings.Split(id.Normalized, Delimiter)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String returns normalized form, or raw form when normalization failed.
func (id Identifier) String() string {
	if id.Normalized != "" {
		return id.Normalized
	}
	return id.Raw
}
