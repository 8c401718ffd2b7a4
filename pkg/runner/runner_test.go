package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name      string
	startErr  error
	healthErr error
	mu        sync.Mutex
	started   bool
	stopped   bool
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *fakeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *fakeService) wasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *fakeService) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeHealthyService struct {
	fakeService
}

func (s *fakeHealthyService) HealthCheck(ctx context.Context) error { return s.healthErr }

func TestRunStartsAllThenStopsAllOnContextCancel(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}
	r := New([]Service{a, b}, WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return a.wasStarted() && b.wasStarted() }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	require.True(t, a.wasStopped())
	require.True(t, b.wasStopped())
}

func TestRunStopsAlreadyStartedServicesWhenOneFailsToStart(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: errors.New("boom")}
	r := New([]Service{a, b}, WithShutdownTimeout(time.Second))

	err := r.Run(context.Background())
	require.Error(t, err)
	require.True(t, a.wasStarted())
	require.True(t, a.wasStopped())
	require.False(t, b.wasStarted())
}

func TestHealthCheckReportsFirstUnhealthyService(t *testing.T) {
	healthy := &fakeHealthyService{fakeService: fakeService{name: "healthy"}}
	unhealthy := &fakeHealthyService{fakeService: fakeService{name: "unhealthy"}, healthErr: errors.New("down")}
	r := New([]Service{healthy, unhealthy})

	err := r.HealthCheck(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unhealthy")
}

func TestHealthCheckPassesWhenAllHealthy(t *testing.T) {
	healthy := &fakeHealthyService{fakeService: fakeService{name: "healthy"}}
	r := New([]Service{healthy})

	require.NoError(t, r.HealthCheck(context.Background()))
}
