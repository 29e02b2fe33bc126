// Package logging provides structured logging helpers built on log/slog.
//
// It defines the attribute-key vocabulary used across the codebase
// (operation, account, provider, folder, status, error) and helpers that
// keep sensitive material out of log output: email addresses are logged as
// hashes or domains, credentials and tokens as length indicators only.
package logging
