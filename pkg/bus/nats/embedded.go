package nats

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process NATS server, used by this module's own
// bus tests and available to callers who want to test against the nats.Bus
// backend without standing up external infrastructure. Grounded in the
// teacher's pkg/nats/embedded.go.
type EmbeddedServer struct {
	server *natsserver.Server
	url    string
}

// StartEmbeddedServer starts an embedded, JetStream-enabled NATS server on
// a random local port.
func StartEmbeddedServer() (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
	}

	s, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("nats bus: create embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats bus: embedded server not ready")
	}

	return &EmbeddedServer{server: s, url: s.ClientURL()}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string { return e.url }

// Shutdown stops the embedded server and waits for it to fully exit.
func (e *EmbeddedServer) Shutdown() {
	if e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
}

// TestConfig returns a Config suited to tests: a short-lived, small stream
// against serverURL.
func TestConfig(serverURL string) Config {
	return Config{
		URL:            serverURL,
		StreamName:     "TEST_EVENTCORE",
		StreamSubjects: []string{"eventcore.>"},
		MaxAge:         time.Minute,
		MaxBytes:       10 * 1024 * 1024,
	}
}

// NewEmbeddedBus starts an embedded server and connects a Bus to it — the
// one-call helper most tests in this module use.
func NewEmbeddedBus() (*Bus, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer()
	if err != nil {
		return nil, nil, err
	}
	b, err := Connect(TestConfig(srv.URL()))
	if err != nil {
		srv.Shutdown()
		return nil, nil, err
	}
	return b, srv, nil
}
