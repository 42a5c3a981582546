// Package logger provides the structured logging interface used across
// feedkeeper.
//
// It wraps zerolog. Console output is written to stderr in a colored,
// human-readable form so that stdout stays free for command output such
// as the paths of downloaded photos. When a log file is configured, JSON
// lines are appended to it as well.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("author", "alice").Info("fetching timeline")
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard
// them.
package logger
