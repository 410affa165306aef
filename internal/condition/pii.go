package condition

import (
	"regexp"
	"strings"
)

// piiPatterns matches the reference implementation's heuristics: SSNs,
// emails, 16-digit card numbers, and US-style phone numbers. These are
// intentionally simple pattern checks, not a validated PII classifier.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{16}\b`),
	regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
}

var sensitivePaths = []string{
	"/etc",
	"/sys",
	"/proc",
	"/boot",
	"/root",
	"/var/log",
	"/usr/sbin",
	`C:\Windows\System32`,
}

const maxScanDepth = 5

// ContainsPII recursively scans a parameter map (bounded to maxScanDepth)
// for values matching any PII pattern.
func ContainsPII(params map[string]any) bool {
	return scanForPII(params, 0)
}

func scanForPII(v any, depth int) bool {
	if depth > maxScanDepth {
		return false
	}
	switch t := v.(type) {
	case string:
		for _, p := range piiPatterns {
			if p.MatchString(t) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, val := range t {
			if scanForPII(val, depth+1) {
				return true
			}
		}
		return false
	case []any:
		for _, val := range t {
			if scanForPII(val, depth+1) {
				return true
			}
		}
		return false
	}
	return false
}

// IsSensitivePath reports whether path falls under a known sensitive
// system directory. The match is case-insensitive, after normalizing
// backslashes to forward slashes.
func IsSensitivePath(path string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	for _, sp := range sensitivePaths {
		spNorm := strings.ToLower(strings.ReplaceAll(sp, `\`, "/"))
		if strings.HasPrefix(normalized, spNorm) {
			return true
		}
	}
	return false
}
