// Package pkg provides shared utilities for the softsd SD card driver.
//
// This package contains common functionality used by the driver, the
// filesystem glue and the card simulator, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for SD protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card ready", "type", "SDHC")
//
// # Errors
//
// Protocol errors are defined as sentinel values. Errors returned by the
// driver wrap one of them:
//
//	if errors.Is(err, pkg.ErrNoResponse) {
//	    // Card missing or bus out of sync
//	}
package pkg
