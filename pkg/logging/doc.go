// Package logging builds the operational loggers used across mockhost.
//
// It wraps log/slog with a small configuration surface (level, format,
// output) so that the serve command, the manager, the control API and the
// forwarders all log the same way:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	})
//	logger.Info("mock server started", "id", "users-api", "port", 4010)
//
// Request logs produced by mock servers are not operational logs; they flow
// through observers (see package mockserver). Components that take a logger
// default to Nop().
package logging
