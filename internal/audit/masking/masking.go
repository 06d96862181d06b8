package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
// Values shaped like PREFIX-XXXX or prefix_xxxx keep their prefix.
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

// MaskJSON returns a copy of the input with the values under sensitive keys
// masked. Nested maps and slices are walked.
func MaskJSON(input map[string]any, sensitive ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}

	keys := make(map[string]struct{}, len(sensitive))
	for _, key := range sensitive {
		keys[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		_, hide := keys[strings.ToLower(trimmedKey)]
		masked[trimmedKey] = maskValue(value, hide, sensitive)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any, hide bool, sensitive []string) any {
	switch cast := value.(type) {
	case string:
		if hide {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		if hide {
			out := make(map[string]any, len(cast))
			for key, item := range cast {
				out[key] = maskValue(item, true, sensitive)
			}
			return out
		}
		return MaskJSON(cast, sensitive...)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item, hide, sensitive))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	cut := strings.IndexAny(value, "_-")
	if cut == -1 || cut == len(value)-1 {
		return "", value
	}
	return value[:cut+1], value[cut+1:]
}
