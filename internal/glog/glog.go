// Package glog holds logging helpers shared across the chain's
// packages. Nearly every interesting log line in consensus and
// execution is scoped to a (height, round) pair, so the helpers
// here attach those fields consistently.
package glog

import "log/slog"

// HR returns a copy of log carrying height and round fields.
func HR(log *slog.Logger, height uint64, round uint32) *slog.Logger {
	return log.With("height", height, "round", round)
}

// HRE is [HR] plus an error field, for failure paths.
func HRE(log *slog.Logger, height uint64, round uint32, e error) *slog.Logger {
	return log.With("height", height, "round", round, "err", e)
}
