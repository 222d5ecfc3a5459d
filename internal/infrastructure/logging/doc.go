// Package logging provides structured logging for Fieldline Core.
//
// It wraps log/slog with service defaults so every record carries the
// service name and build version. Domain packages accept a minimal
// Logger interface satisfied by *logging.Logger; they never import
// this package directly.
package logging
