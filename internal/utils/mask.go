package utils

// MaskSecret keeps the first four characters of s for log correlation.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
