// Package preflight validates the host before the server takes over a
// data directory.
//
// The package checks:
//   - Disk space at the data directory (minimum 100MB)
//   - Write permissions on the data directory
//   - File descriptor limits (minimum 1024)
//   - Available memory (advisory, 1GB recommended)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Refuse to start.
//	}
//
// A marker file records a successful run so the checks only cost
// anything on first start. See NeedsCheck and MarkPassed.
package preflight
