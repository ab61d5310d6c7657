// Package tld canonicalises domain extensions and currency codes.
package tld

import "strings"

// NormalizeExtension canonicalises an extension: trimmed, lowercase, no leading dots.
// Empty input is returned unchanged.
func NormalizeExtension(ext string) string {
	if ext == "" {
		return ext
	}
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// NormalizeCurrency returns the uppercase form of a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ResolveExtension finds the longest dot-separated suffix of domain accepted by known.
// When nothing matches the last label is returned.
func ResolveExtension(domain string, known func(string) bool) string {
	normalized := NormalizeExtension(domain)
	if normalized == "" {
		return normalized
	}
	labels := strings.Split(strings.TrimRight(normalized, "."), ".")
	if known != nil {
		for i := 0; i < len(labels); i++ {
			candidate := strings.Join(labels[i:], ".")
			if candidate != "" && known(candidate) {
				return candidate
			}
		}
	}
	return labels[len(labels)-1]
}
