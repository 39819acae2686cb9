package masking

import "strings"

const maskToken = "****"

var sensitiveKeyParts = []string{"token", "secret", "password", "signature", "authorization"}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskSensitive returns a copy of metadata where string values under
// credential-like keys are redacted. Nested maps are walked.
func MaskSensitive(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		switch cast := value.(type) {
		case map[string]any:
			out[trimmedKey] = MaskSensitive(cast)
		case string:
			if isSensitiveKey(trimmedKey) {
				out[trimmedKey] = MaskSecret(cast)
			} else {
				out[trimmedKey] = cast
			}
		default:
			out[trimmedKey] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
