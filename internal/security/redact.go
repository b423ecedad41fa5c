// Package security masks investor identifiers and credentials and validates
// user supplied identifiers.
package security

import (
	"regexp"
	"strings"
)

// sensitiveFields contains field names whose values are always masked.
var sensitiveFields = map[string]bool{
	"pan":          true,
	"email":        true,
	"mobile":       true,
	"token":        true,
	"bot_token":    true,
	"access_token": true,
	"password":     true,
	"secret":       true,
}

var (
	// Indian permanent account number, as printed on every CAS.
	panPattern = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)

	sensitivePatterns = []*regexp.Regexp{
		// Telegram bot tokens: <bot id>:<secret>
		regexp.MustCompile(`\b[0-9]{6,}:[A-Za-z0-9_-]{30,}\b`),
		regexp.MustCompile(`(?i)(token|password|secret)=([^\s&"']+)`),
	}
)

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskPAN keeps the last four characters of a PAN.
func MaskPAN(pan string) string {
	if len(pan) <= 4 {
		return strings.Repeat("*", len(pan))
	}
	return strings.Repeat("*", len(pan)-4) + pan[len(pan)-4:]
}

// MaskSensitive masks PANs and credentials embedded in free text.
func MaskSensitive(input string) string {
	result := panPattern.ReplaceAllStringFunc(input, MaskPAN)
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if key, val, ok := strings.Cut(match, "="); ok {
				return key + "=" + MaskCredential(val)
			}
			return MaskCredential(match)
		})
	}
	return result
}

// ContainsSensitiveData reports whether input carries a PAN or a credential.
func ContainsSensitiveData(input string) bool {
	if panPattern.MatchString(input) {
		return true
	}
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// RedactMap returns a copy of data with sensitive values masked. Nested maps
// are redacted too.
func RedactMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if isSensitiveField(k) {
				result[k] = MaskCredential(val)
			} else {
				result[k] = MaskSensitive(val)
			}
		case map[string]interface{}:
			result[k] = RedactMap(val)
		default:
			if isSensitiveField(k) {
				result[k] = "***"
			} else {
				result[k] = v
			}
		}
	}
	return result
}

func isSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}
