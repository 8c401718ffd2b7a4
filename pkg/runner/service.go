// Package runner provides a signal-aware process lifecycle: start a fixed
// set of Services in order, block until an OS shutdown signal or context
// cancellation arrives, then stop them concurrently within a timeout.
// Grounded in the teacher's pkg/runner/{runner,service,signals}.go,
// generalized from the teacher's bespoke Logger interface onto log/slog,
// this module's ambient logging choice.
package runner

import "context"

// Service is started and stopped by a Runner.
type Service interface {
	// Name identifies the service in logs and error messages.
	Name() string

	// Start initializes and starts the service. Blocks until ready to
	// serve and respects context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts the service down within ctx's deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is an optional Service capability.
type HealthChecker interface {
	Service
	HealthCheck(ctx context.Context) error
}
