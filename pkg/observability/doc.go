// Package observability provides structured logging and Prometheus metrics
// for the tenancy core.
//
// # Logging
//
// Logger wraps stdlib slog with a JSON handler and field chaining:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithOrg(orgID).WithUser(userID).Info("member added")
//
// # Metrics
//
// NewMetrics registers counters and histograms for membership operations,
// invitation lifecycle transitions, event dispatches, and cache traffic.
// Expose them with MetricsHandler on a dedicated port.
package observability
