// Package maillog records one line per send outcome (SUCCESS, FAIL, RETRY).
//
// The default sink is an append-only UTC-timestamped text file that is
// trimmed to its most recent megabyte once it grows past the configured cap.
package maillog
