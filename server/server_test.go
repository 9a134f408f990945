package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jathurchan/ridecore/testutil"
)

type lineClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialLine(t *testing.T, addr net.Addr) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	testutil.RequireNoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	testutil.RequireNoError(t, err)
}

func (c *lineClient) read(t *testing.T) string {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := c.r.ReadString('\n')
	testutil.RequireNoError(t, err)
	return strings.TrimSuffix(resp, "\n")
}

func (c *lineClient) roundTrip(t *testing.T, line string) string {
	t.Helper()
	c.send(t, line)
	return c.read(t)
}

func (c *lineClient) expectClosed(t *testing.T) {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadString('\n')
	testutil.AssertError(t, err, "connection should be closed by the server")
}

func startTestServer(t *testing.T, st *testStack, mutate func(*Config)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Metrics = st.metrics
	cfg.Clock = st.clock
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg, st.handler, st.health)
	testutil.RequireNoError(t, err)
	testutil.RequireNoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		if srv.State() == ServerStateRunning {
			_ = srv.Stop(context.Background())
		}
	})
	return srv
}

func TestServer_ServesRequestLines(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, nil)

	c := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "SUCCESS: Driver registered", c.roundTrip(t, "register_driver;driver1;Downtown;1"))
	testutil.AssertEqual(t, "ERROR: Unknown command", c.roundTrip(t, "TELEPORT;1"))

	c.send(t, "")
	testutil.AssertEqual(t, "SUCCESS: $12.50", c.roundTrip(t, "CALCULATE_FARE;5;2.5;2"))

	conns := srv.Connections()
	testutil.AssertLen(t, conns, 1)
	testutil.AssertEqual(t, int64(4), conns[0].RequestCount)
	testutil.AssertEqual(t, VerbCalculateFare, conns[0].LastVerb)

	c.send(t, "exit;3")
	c.expectClosed(t)
}

func TestServer_OversizedLineKeepsConnection(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, func(c *Config) { c.MaxLineLength = 32 })

	c := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "ERROR: Request too long", c.roundTrip(t, "REGISTER_DRIVER;"+strings.Repeat("x", 10000)+";1"))
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))

	st.metrics.mu.Lock()
	defer st.metrics.mu.Unlock()
	testutil.AssertEqual(t, 1, st.metrics.protocolErrors)
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("y", 100)+"\nok\ntail"), 16)

	line, tooLong, err := readLine(r, 10)
	testutil.RequireNoError(t, err)
	testutil.AssertFalse(t, tooLong)
	testutil.AssertEqual(t, "short\r\n", line)

	_, tooLong, err = readLine(r, 10)
	testutil.RequireNoError(t, err)
	testutil.AssertTrue(t, tooLong)

	line, _, err = readLine(r, 10)
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, "ok\n", line)

	line, tooLong, err = readLine(r, 10)
	testutil.RequireNoError(t, err)
	testutil.AssertFalse(t, tooLong)
	testutil.AssertEqual(t, "tail", line)

	_, _, err = readLine(r, 10)
	testutil.AssertErrorIs(t, err, io.EOF)
}

func TestServer_QueueOverflow(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, func(c *Config) {
		c.MaxConcurrentConns = 1
		c.QueueSize = 1
	})

	busy := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "LEADER: Process 5", busy.roundTrip(t, "LEADER_STATUS"))

	queued := dialLine(t, srv.Addr())
	queued.send(t, "LEADER_STATUS")

	rejected := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "ERROR: Server busy", rejected.read(t))
	rejected.expectClosed(t)

	busy.send(t, "EXIT")
	busy.expectClosed(t)
	testutil.AssertEqual(t, "LEADER: Process 5", queued.read(t))

	st.metrics.mu.Lock()
	defer st.metrics.mu.Unlock()
	testutil.AssertEqual(t, 1, st.metrics.overflows)
}

func TestServer_RateLimit(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, func(c *Config) {
		c.EnableRateLimit = true
		c.RateLimit = 1
		c.RateLimitBurst = 2
		c.RateLimitWindow = time.Hour
	})

	c := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))
	testutil.AssertEqual(t, "FAILED: Rate limit exceeded", c.roundTrip(t, "LEADER_STATUS"))

	st.metrics.mu.Lock()
	defer st.metrics.mu.Unlock()
	testutil.AssertEqual(t, 1, st.metrics.rateLimited)
}

func TestServer_Lifecycle(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, nil)

	testutil.AssertEqual(t, ServerStateRunning, srv.State())
	testutil.AssertErrorIs(t, srv.Start(context.Background()), ErrServerAlreadyStarted)

	c := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))

	testutil.RequireNoError(t, srv.Stop(context.Background()))
	testutil.AssertEqual(t, ServerStateStopped, srv.State())
	c.expectClosed(t)

	testutil.AssertErrorIs(t, srv.Stop(context.Background()), ErrServerNotStarted)
	testutil.AssertErrorIs(t, srv.Start(context.Background()), ErrServerStopped)
}

func TestServer_HealthEndpoint(t *testing.T) {
	st := newTestStack(t, 0)
	srv := startTestServer(t, st, func(c *Config) {
		c.HealthAddress = "127.0.0.1:0"
	})
	testutil.RequireNotNil(t, srv.HealthAddr())

	conn, err := grpc.NewClient(srv.HealthAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	testutil.RequireNoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		testutil.RequireNoError(t, err)
		return resp.GetStatus()
	}

	testutil.AssertEqual(t, healthpb.HealthCheckResponse_SERVING, check("datanode3"))
	testutil.AssertEqual(t, healthpb.HealthCheckResponse_SERVING, check(NodeService(5)))

	lc := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "SUCCESS: Node datanode3 failed", lc.roundTrip(t, "FAIL_NODE;datanode3;1"))
	testutil.AssertEqual(t, "SUCCESS: Node 5 failed", lc.roundTrip(t, "FAIL_NODE;5;2"))
	settle(t, st.coord)

	testutil.AssertEqual(t, healthpb.HealthCheckResponse_NOT_SERVING, check("datanode3"))
	testutil.AssertEqual(t, healthpb.HealthCheckResponse_NOT_SERVING, check(NodeService(5)))
	testutil.AssertEqual(t, healthpb.HealthCheckResponse_SERVING, check(NodeService(4)))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	testutil.AssertErrorIs(t, err, ErrMissingDependencies)

	cfg := DefaultConfig()
	cfg.QueueSize = 0
	_, err = New(cfg, &Handler{}, nil)
	var ce *ConfigError
	testutil.AssertTrue(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
}

func TestServerBuilder(t *testing.T) {
	st := newTestStack(t, 0)

	_, err := NewServerBuilder().Build()
	testutil.AssertErrorIs(t, err, ErrMissingDependencies)

	_, err = NewServerBuilder().
		WithHealthAddress("127.0.0.1:0").
		WithDispatch(st.svc).
		WithCluster(st.coord).
		WithStorage(st.nn).
		Build()
	testutil.AssertError(t, err, "health address without publisher")

	_, err = NewServerBuilder().WithListenAddress("").
		WithDispatch(st.svc).WithCluster(st.coord).WithStorage(st.nn).
		Build()
	testutil.AssertContains(t, err.Error(), "configuration validation failed")

	srv, err := NewServerBuilder().
		WithListenAddress("127.0.0.1:0").
		WithWorkers(2, 4).
		WithTimeouts(time.Minute, -1, 0).
		WithRateLimit(true, 50, 0, 0).
		WithClock(st.clock).
		WithDispatch(st.svc).
		WithCluster(st.coord).
		WithStorage(st.nn).
		WithMonitor(st.mon).
		WithBackup(st.backup).
		WithHealth(st.health).
		Build()
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, 2, srv.cfg.MaxConcurrentConns)
	testutil.AssertEqual(t, 4, srv.cfg.QueueSize)
	testutil.AssertEqual(t, DefaultShutdownTimeout, srv.cfg.ShutdownTimeout)
	testutil.AssertEqual(t, time.Duration(0), srv.cfg.FailoverDelay)
	testutil.AssertEqual(t, 50, srv.cfg.RateLimit)
	testutil.AssertEqual(t, DefaultRateLimitBurst, srv.cfg.RateLimitBurst)
	testutil.AssertNotNil(t, srv.limiter)

	testutil.RequireNoError(t, srv.Start(context.Background()))
	c := dialLine(t, srv.Addr())
	testutil.AssertEqual(t, "LEADER: Process 5", c.roundTrip(t, "LEADER_STATUS"))
	testutil.RequireNoError(t, srv.Stop(context.Background()))
}
