// Command eventcore-gateway runs the ledger example behind a Connect-RPC
// CommandGateway: storage and bus backends are selected from environment
// variables via pkg/config, commands arrive over HTTP, and the aggregate
// and saga runtime from examples/ledger do the rest. Grounded in the
// teacher's examples/cmd demo mains (narrative banner plus numbered steps),
// adapted from their fmt.Println demo style to slog for anything that
// isn't pure narration, since a gateway process's logs are consumed by
// operators, not read in a terminal transcript.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/coreflux/eventcore/examples/ledger"
	"github.com/coreflux/eventcore/pkg/config"
	"github.com/coreflux/eventcore/pkg/runner"
	"github.com/coreflux/eventcore/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("eventcore-gateway exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	fmt.Println("=== eventcore-gateway: ledger example over Connect-RPC ===")

	logger := slog.Default()
	cfg := config.Load()

	logger.Info("starting ledger service",
		slog.String("storageDriver", cfg.StorageDriver),
		slog.String("busDriver", cfg.BusDriver))

	svc, err := ledger.NewService(logger)
	if err != nil {
		return fmt.Errorf("eventcore-gateway: build ledger service: %w", err)
	}

	gateway := transport.NewCommandGateway(svc)
	mux := http.NewServeMux()
	path, handler := gateway.Handler()
	mux.Handle(path, handler)

	httpService := &httpServerService{addr: addrFromEnv(), mux: mux, logger: logger}

	r := runner.New(
		[]runner.Service{svc, httpService},
		runner.WithLogger(logger),
		runner.WithShutdownTimeout(config.ShutdownTimeout),
	)

	fmt.Printf("listening on %s, command gateway mounted at %s\n", httpService.addr, path)
	return r.Run(context.Background())
}

func addrFromEnv() string {
	if v := os.Getenv("EVENTCORE_GATEWAY_ADDR"); v != "" {
		return v
	}
	return ":8080"
}

// httpServerService adapts an http.Server into a runner.Service.
type httpServerService struct {
	addr   string
	mux    *http.ServeMux
	logger *slog.Logger
	srv    *http.Server
}

func (s *httpServerService) Name() string { return "command-gateway-http" }

func (s *httpServerService) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.mux}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("command gateway http server failed", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *httpServerService) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
