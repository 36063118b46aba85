// Package logger provides structured logging for phabry built on zerolog.
//
// A Logger is constructed once per run from the logging section of the
// configuration and handed explicitly to every component that logs; there is
// no package-level global. Console output goes to stderr so the fetch
// progress line on stdout is never interleaved with log records, and a file
// sink can be pointed at the target directory to keep a per-run log next to
// the snapshots.
//
// TestLogger captures entries in memory for assertions in tests.
package logger
