package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMetadataValueLength bounds values sent to gateways; Stripe rejects longer ones.
const MaxMetadataValueLength = 500

// NormalizeMetadata prepares free-form key/value pairs for a payment gateway. Keys are
// lower snake case, values are trimmed and cut to MaxMetadataValueLength runes, and
// entries whose key normalises to empty are dropped. Reserved keys are never overwritten
// by caller-supplied values.
func NormalizeMetadata(values map[string]string, reserved ...string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	skip := make(map[string]struct{}, len(reserved))
	for _, key := range reserved {
		skip[MetadataKey(key)] = struct{}{}
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		normalized := MetadataKey(key)
		if normalized == "" {
			continue
		}
		if _, ok := skip[normalized]; ok {
			continue
		}
		result[normalized] = truncateRunes(strings.TrimSpace(value), MaxMetadataValueLength)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// MetadataKey lowercases key and collapses runs of non-alphanumerics into one underscore.
func MetadataKey(key string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(key) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
