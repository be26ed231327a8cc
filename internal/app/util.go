package app

import (
	"strings"
)

// shortID truncates long ids and addresses for logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if s is empty or whitespace-only.
func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
