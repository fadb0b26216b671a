package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainFields  = "storesync/fields/v1"
	DomainPayload = "storesync/payload/v1"
)

// NormalizeKey trims and NFC-normalizes an id or entity type name.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Canonical produces a deterministic JSON encoding of a field map:
// object keys sorted, strings NFC normalized, no HTML escaping.
// Two maps with the same logical content always encode to the same bytes.
func Canonical(fields map[string]any) ([]byte, error) {
	normalized := normalizeValue(fields)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // <, >, & stay literal
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	// Encoder adds a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint computes SHA-256 over the canonical encoding with domain separation.
// Format: SHA256(domain + 0x00 + canonical)
func Fingerprint(domain string, fields map[string]any) (string, error) {
	data, err := Canonical(fields)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SameContent reports whether two field maps are logically identical.
func SameContent(a, b map[string]any) bool {
	fa, err := Fingerprint(DomainFields, a)
	if err != nil {
		return false
	}
	fb, err := Fingerprint(DomainFields, b)
	if err != nil {
		return false
	}
	return fa == fb
}

// normalizeValue NFC-normalizes strings and map keys recursively and
// resolves json.Number literals.
// encoding/json already sorts map keys, so the result encodes canonically.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case json.Number:
		return numberValue(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalizeValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem)
		}
		return out
	default:
		return val
	}
}
