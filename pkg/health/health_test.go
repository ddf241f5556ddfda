package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} })
	c.Register("cache", Ping(time.Second, true, func(context.Context) error { return errors.New("refused") }))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["cache"].Status)
	assert.Contains(t, report.Components["cache"].Message, "refused")

	c.Register("annotations", Ping(10*time.Millisecond, false, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker("pg", resilience.CircuitBreakerConfig{FailureThreshold: 1})
	check := Breaker(cb)
	assert.Equal(t, StatusUp, check(context.Background()).Status)
	cb.Execute(func() error { return errors.New("down") })
	got := check(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "circuit open, 0 calls rejected", got.Message)
	cb.Execute(func() error { return nil })
	assert.Equal(t, "circuit open, 1 calls rejected", check(context.Background()).Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("index", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown, Message: "no snapshot"} })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "no snapshot", report.Components["index"].Message)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConcurrentRunsShareOneProbe(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewChecker()
	c.Register("snapshot", func(context.Context) ComponentHealth {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return ComponentHealth{Status: StatusUp}
	})

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	wg.Add(1)
	go func() { defer wg.Done(); reports[0] = c.Run(context.Background()) }()
	<-started
	wg.Add(1)
	go func() { defer wg.Done(); reports[1] = c.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatusUp, reports[0].Status)
	assert.Equal(t, reports[0].Timestamp, reports[1].Timestamp)

	c.Run(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRPCHealthCheck(t *testing.T) {
	var down atomic.Bool
	c := NewChecker()
	c.Register("corpus", func(context.Context) ComponentHealth {
		if down.Load() {
			return ComponentHealth{Status: StatusDown}
		}
		return ComponentHealth{Status: StatusDegraded}
	})

	srv := grpc.NewServer()
	c.RegisterRPC(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeListener(ln) }()
	t.Cleanup(srv.Stop)

	client, err := grpc.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var resp proto.HealthCheckResponse
	require.NoError(t, client.Call(context.Background(), RPCMethod, nil, &resp))
	assert.Equal(t, "SERVING", resp.Status)

	down.Store(true)
	require.NoError(t, client.Call(context.Background(), RPCMethod, nil, &resp))
	assert.Equal(t, "NOT_SERVING", resp.Status)
}
