// ABOUTME: Try, log on failure, continue: the contract for side actions that must not abort a flow
// ABOUTME: Used for acknowledgment likes and informational comments

package bridge

import (
	"log/slog"
)

// BestEffort runs fn and logs a failure at warn level. It reports whether
// fn succeeded; callers may ignore the result.
func BestEffort(logger *slog.Logger, action string, fn func() error, attrs ...any) bool {
	if err := fn(); err != nil {
		logger.Warn(action+" failed", append(attrs, "error", err)...)
		return false
	}
	logger.Debug(action+" succeeded", attrs...)
	return true
}
