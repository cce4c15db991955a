package utils

import (
	"log"
)

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Log writes a leveled message tagged with the originating module and
// operation, so run summaries of the batch jobs are greppable.
func Log(level, module, operation, details string) {
	log.Printf("[%s] Module: %s, Operation: %s, Details: %s", level, module, operation, details)
}

// Info logs an informational message.
func Info(module, operation, details string) {
	Log(LevelInfo, module, operation, details)
}

// Warn logs a warning message.
func Warn(module, operation, details string) {
	Log(LevelWarn, module, operation, details)
}

// Error logs an error message.
func Error(module, operation, details string) {
	Log(LevelError, module, operation, details)
}
