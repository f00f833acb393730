package logbuffer

import "strings"

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Classify guesses the severity of an engine log line.
func Classify(line string) string {
	low := strings.ToLower(line)
	if strings.Contains(low, ": error:") || strings.Contains(low, " error: ") || strings.HasPrefix(low, "error:") {
		return LevelError
	}
	if strings.Contains(low, ": warning:") || strings.Contains(low, " warning: ") || strings.HasPrefix(low, "warning:") {
		return LevelWarning
	}
	return LevelInfo
}
