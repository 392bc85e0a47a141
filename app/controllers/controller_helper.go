package controllers

import "time"

// formatTime renders t as RFC3339 in UTC
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
