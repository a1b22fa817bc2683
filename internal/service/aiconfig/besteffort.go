package aiconfig

import "log/slog"

// BestEffort runs fn and swallows any panic from it. Metric emission must never fail
// the caller's request.
func BestEffort(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("metric emission failed", "call", name, "panic", r)
		}
	}()
	fn()
}
