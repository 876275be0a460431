package core

import (
	"strings"
	"time"
)

// NowFunc is the clock used by services; tests replace it.
var NowFunc = func() time.Time { return time.Now().UTC() } // mockable

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// NormalizeEmail is the canonical form used to match purchases and identities.
func NormalizeEmail(email string) string {
	return CleanString(email, true /* lower */)
}
