// Package config loads process configuration (storage backend selection,
// bus backend selection, snapshot cadence, and so on) from environment
// variables. Load reads plain values only; Resolver.Resolve decrypts a
// value through a gocloud.dev/secrets keeper registered under the name the
// caller passes. Grounded in the teacher's
// pkg/security/credentials/gocloud.go, repurposed away from its original
// credential-rotation role — authentication/authorization is an explicit
// non-goal of this module — into plain configuration-secret resolution:
// a database DSN or NATS URL that happens to live in a secret manager
// rather than a literal environment variable.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"gocloud.dev/secrets"
	// Cloud provider backends are opt-in: the caller's main package imports
	// the one it needs, e.g.:
	//   _ "gocloud.dev/secrets/localsecrets"
	//   _ "gocloud.dev/secrets/awskms"
)

// Config is the resolved process configuration for an eventcore service.
type Config struct {
	// StorageDriver selects the EventStorage/SnapshotStorage backend:
	// "memory" or "sqlite".
	StorageDriver string
	// SQLiteDSN is the data source name passed to modernc.org/sqlite when
	// StorageDriver is "sqlite".
	SQLiteDSN string

	// BusDriver selects the bus.Bus backend: "memory" or "nats".
	BusDriver string
	// NATSURL is the NATS server URL when BusDriver is "nats".
	NATSURL string

	// SnapshotEveryNEvents triggers a snapshot once an aggregate has this
	// many uncommitted-then-committed events since its last snapshot. Zero
	// disables periodic snapshotting.
	SnapshotEveryNEvents uint64

	// PublishAsync controls whether EventStore.Commit publishes
	// fire-and-forget (true) or waits for publish to complete (false).
	PublishAsync bool
}

// Resolver resolves a single environment variable's value, decrypting it
// through a secrets.Keeper when the variable names one.
type Resolver struct {
	keepers map[string]*secrets.Keeper
}

// NewResolver creates a Resolver with no secret keepers configured; use
// WithSecretKeeper to register one per logical name before calling Resolve.
func NewResolver() *Resolver {
	return &Resolver{keepers: make(map[string]*secrets.Keeper)}
}

// WithSecretKeeper opens a gocloud.dev secrets.Keeper for url and registers
// it under name, so that Resolve(name, ...) decrypts through it. url
// follows gocloud's scheme conventions, e.g. "awskms://...",
// "gcpkms://...", or "file:///path/to/key" for local development.
func (r *Resolver) WithSecretKeeper(ctx context.Context, name, url string) error {
	keeper, err := secrets.OpenKeeper(ctx, url)
	if err != nil {
		return fmt.Errorf("config: open secret keeper %q: %w", name, err)
	}
	r.keepers[name] = keeper
	return nil
}

// Close releases every registered secret keeper.
func (r *Resolver) Close() error {
	var firstErr error
	for _, k := range r.keepers {
		if err := k.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Resolve returns the plaintext value of envVar. If keeperName is
// non-empty, envVar's raw value is treated as ciphertext and decrypted
// through the keeper registered under keeperName.
func (r *Resolver) Resolve(ctx context.Context, envVar, keeperName string) (string, error) {
	raw := os.Getenv(envVar)
	if keeperName == "" || raw == "" {
		return raw, nil
	}
	keeper, ok := r.keepers[keeperName]
	if !ok {
		return "", fmt.Errorf("config: no secret keeper registered under %q", keeperName)
	}
	plaintext, err := keeper.Decrypt(ctx, []byte(raw))
	if err != nil {
		return "", fmt.Errorf("config: decrypt %q via %q: %w", envVar, keeperName, err)
	}
	return string(plaintext), nil
}

// Load reads process configuration from environment variables, applying
// the defaults an unconfigured development process should have: in-memory
// storage and bus, no snapshotting, asynchronous publish.
func Load() Config {
	cfg := Config{
		StorageDriver:        envOr("EVENTCORE_STORAGE_DRIVER", "memory"),
		SQLiteDSN:            envOr("EVENTCORE_SQLITE_DSN", "file:eventcore.db"),
		BusDriver:            envOr("EVENTCORE_BUS_DRIVER", "memory"),
		NATSURL:              envOr("EVENTCORE_NATS_URL", "nats://127.0.0.1:4222"),
		SnapshotEveryNEvents: envUint("EVENTCORE_SNAPSHOT_EVERY_N", 0),
		PublishAsync:         envBool("EVENTCORE_PUBLISH_ASYNC", true),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// ShutdownTimeout is the default graceful-shutdown budget a runner.Runner
// built from Config should use.
const ShutdownTimeout = 30 * time.Second
