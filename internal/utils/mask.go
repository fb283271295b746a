package utils

import "strings"

const maskShown = 4

// MaskSecret keeps a short prefix of long secrets so two of them can be
// told apart in output.
func MaskSecret(s string) string {
	if len(s) <= 2*maskShown {
		return strings.Repeat("*", 5)
	}
	return s[:maskShown] + strings.Repeat("*", 5)
}
