package config

import (
	"path"
	"strings"
)

// Normalize trims config patterns and removes empty values.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ExcludeNamespaces = normalizePatterns(c.ExcludeNamespaces)
	c.ExcludeApps = normalizePatterns(c.ExcludeApps)
	c.MeshURL = strings.TrimRight(strings.TrimSpace(c.MeshURL), "/")
	c.MeshExternalURL = strings.TrimRight(strings.TrimSpace(c.MeshExternalURL), "/")
	c.NamespaceSource = normalizePattern(c.NamespaceSource)
	c.Store = normalizePattern(c.Store)
	c.SnapshotFormat = normalizePattern(c.SnapshotFormat)
}

// IsNamespaceExcluded reports whether namespace matches exclude patterns.
func (c *Config) IsNamespaceExcluded(namespace string) bool {
	if c == nil || len(c.ExcludeNamespaces) == 0 {
		return false
	}

	value := normalizePattern(namespace)
	if value == "" {
		return false
	}

	for _, pattern := range c.ExcludeNamespaces {
		if patternMatches(pattern, value) {
			return true
		}
	}

	return false
}

// IsAppExcluded reports whether an application matches exclude patterns.
// Patterns match either "namespace/app" or the bare app name.
func (c *Config) IsAppExcluded(namespace, app string) bool {
	if c == nil || len(c.ExcludeApps) == 0 {
		return false
	}

	name := normalizePattern(app)
	if name == "" {
		return false
	}
	qualified := normalizePattern(namespace) + "/" + name

	for _, pattern := range c.ExcludeApps {
		if patternMatches(pattern, qualified) || patternMatches(pattern, name) {
			return true
		}
	}

	return false
}

func normalizePatterns(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, pattern := range values {
		p := normalizePattern(pattern)
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return normalized
}

func normalizePattern(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func patternMatches(pattern, value string) bool {
	normalizedPattern := normalizePattern(pattern)
	normalizedValue := normalizePattern(value)
	if normalizedPattern == "" || normalizedValue == "" {
		return false
	}

	// Invalid glob patterns are treated as exact matches.
	matched, err := path.Match(normalizedPattern, normalizedValue)
	if err == nil {
		return matched
	}
	return normalizedPattern == normalizedValue
}
