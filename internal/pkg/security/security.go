// Package security provides input validation and log-sanitization helpers
// for the retrieval core's inbound surface.
package security

import (
	"net/http"
	"strings"
	"unicode"
)

// SanitizeForLog sanitizes a string for safe logging.
// It prevents log injection by escaping newlines/carriage returns, dropping
// other control characters, and truncating to a maximum length.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength sanitizes a string for logging with a custom max length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(minInt(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString("\\n")
			count += 2
		case '\r':
			b.WriteString("\\r")
			count += 2
		case '\t':
			b.WriteString("\\t")
			count += 2
		default:
			if !unicode.IsControl(r) || r == ' ' {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

// sensitiveHeaders are HTTP header names that contain sensitive data.
// These should be masked in logs.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"api-key":             true,
	"x-auth-token":        true,
	"cookie":              true,
	"set-cookie":          true,
	"x-csrf-token":        true,
	"x-xsrf-token":        true,
	"proxy-authorization": true,
}

// sensitiveFieldPatterns are patterns in header/key names that indicate
// sensitive data.
var sensitiveFieldPatterns = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"auth",
}

// MaskSensitiveHeaders creates a copy of headers with sensitive values masked.
// This is safe to use for logging.
func MaskSensitiveHeaders(headers http.Header) http.Header {
	if headers == nil {
		return nil
	}

	masked := make(http.Header, len(headers))
	for key, values := range headers {
		if isSensitiveHeader(key) {
			masked[key] = []string{"[REDACTED]"}
		} else {
			masked[key] = append([]string(nil), values...)
		}
	}
	return masked
}

// MaskSensitiveMap masks sensitive values in a string map.
// Useful for logging request parameters or config values.
func MaskSensitiveMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	masked := make(map[string]string, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			masked[key] = "[REDACTED]"
		} else {
			masked[key] = value
		}
	}
	return masked
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveHeaders[lower] {
		return true
	}
	return isSensitiveKey(lower)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveFieldPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// SanitizeQuery strips control characters from a query string while
// preserving normal whitespace, then trims leading/trailing space.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, query)

	return strings.TrimSpace(sanitized)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
