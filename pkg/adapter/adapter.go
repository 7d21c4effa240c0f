// Package adapter defines the contract every runtime adapter implements and
// the shared configuration they are built from. An adapter owns one
// execution platform (persistent socket server, function-as-a-service
// dispatch, or fetch-style edge runtime) and translates between that
// platform's native event shape and the canonical request/response model in
// pkg/platform, dispatching through pkg/kernel in between.
package adapter

import (
	"context"
	"log/slog"
	"time"

	"portico/pkg/kernel"
	"portico/pkg/logger"
	"portico/pkg/platform"
	"portico/pkg/telemetry"
)

// Platform identifiers, used as the platform label on logs and metrics.
const (
	PlatformServer = "server"
	PlatformFaaS   = "faas"
	PlatformEdge   = "edge"
	PlatformWorker = "worker"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// Adapter is the surface shared by every platform binding.
//
// Handle never panics and never returns an error: whatever goes wrong
// inside parsing or the kernel comes back as a canonical error response.
// ParseRequest is pure and total; malformed events map onto zero-valued
// request fields rather than failures. FormatResponse is pure per platform:
// the same canonical response always yields the same native value.
type Adapter interface {
	Platform() string
	Handle(ctx context.Context, event any) platform.Response
	ParseRequest(event any) platform.Request
	FormatResponse(res platform.Response) (any, error)
	SupportsPersistentConnections() bool
	Environment() Environment
	Logger() *slog.Logger
}

// Config carries the knobs common to all adapters. A zero value is usable;
// Normalize fills the defaults.
type Config struct {
	// Handler is the kernel entry point. Exactly one of Handler or
	// Builder must be set.
	Handler kernel.Handler

	// Builder constructs the handler on first use, letting warm
	// function instances reuse the constructed application across
	// invocations. It receives the resolved environment.
	Builder func(env Environment) (kernel.Handler, error)

	Logger *slog.Logger

	// Timeout bounds each kernel dispatch on the socket server, the one
	// platform that owns its own clock. Event and fetch hosts impose their
	// own invocation deadlines, so their adapters ignore it. Zero means
	// DefaultTimeout; negative disables the bound.
	Timeout time.Duration

	// MaxBodyBytes bounds the request body. Zero means
	// DefaultMaxBodyBytes; negative disables the bound.
	MaxBodyBytes int64

	Metrics *telemetry.Metrics

	// Production suppresses internal error detail in client-facing
	// responses.
	Production bool
}

// Normalize returns a copy of c with defaults applied.
func (c Config) Normalize() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Logger == nil {
		if logger.Log != nil {
			c.Logger = logger.Log
		} else {
			c.Logger = slog.Default()
		}
	}
	return c
}

// BodyLimited reports whether a body limit is in force.
func (c Config) BodyLimited() bool { return c.MaxBodyBytes > 0 }

// TimeoutEnabled reports whether the per-request timeout is in force.
func (c Config) TimeoutEnabled() bool { return c.Timeout > 0 }
