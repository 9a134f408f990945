package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/jathurchan/ridecore/logger"
)

// Server accepts line-protocol connections and serves each one on a worker
// from a fixed pool. Connections wait in a bounded queue while every worker
// is busy and are turned away once the queue is full. An optional gRPC
// endpoint publishes member health.
type Server struct {
	cfg     Config
	handler *Handler
	health  *HealthPublisher
	conns   ConnectionManager
	limiter RateLimiter
	metrics ServerMetrics
	logger  logger.Logger

	mu         sync.Mutex
	state      ServerOperationalState
	listener   net.Listener
	healthLis  net.Listener
	grpcServer *grpc.Server
	queue      chan net.Conn
	open       map[net.Conn]struct{}
	stopCh     chan struct{}

	acceptWg sync.WaitGroup
	workerWg sync.WaitGroup
}

// New validates cfg and wires a server around handler. health may be nil, in
// which case no gRPC endpoint is started even if HealthAddress is set.
func New(cfg Config, handler *Handler, health *HealthPublisher) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrMissingDependencies)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewNoOpServerMetrics()
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		health:  health,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.WithComponent("server"),
		conns:   NewConnectionManager(cfg.Metrics, cfg.Logger, cfg.Clock),
		state:   ServerStateStopped,
		open:    make(map[net.Conn]struct{}),
	}
	if cfg.EnableRateLimit {
		s.limiter = NewTokenBucketRateLimiter(cfg.RateLimit, cfg.RateLimitBurst, cfg.RateLimitWindow, cfg.Logger)
	}
	return s, nil
}

// Start binds the listeners and launches the accept loop and workers.
// A server can be started once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ServerStateRunning, ServerStateStarting:
		return ErrServerAlreadyStarted
	case ServerStateStopping:
		return ErrServerStopped
	}
	if s.stopCh != nil {
		return ErrServerStopped
	}
	s.state = ServerStateStarting

	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		s.state = ServerStateStopped
		return NewServerError("start", err, "failed to listen on "+s.cfg.ListenAddress)
	}

	if s.cfg.HealthAddress != "" && s.health != nil {
		if err := s.startHealthLocked(); err != nil {
			_ = lis.Close()
			s.state = ServerStateStopped
			return err
		}
	}

	s.listener = lis
	s.queue = make(chan net.Conn, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})

	for i := range s.cfg.MaxConcurrentConns {
		s.workerWg.Add(1)
		go s.worker(ctx, i+1)
	}
	s.acceptWg.Add(1)
	go s.acceptLoop(lis)

	s.state = ServerStateRunning
	s.metrics.SetServerState(true, true)
	s.logger.Infow("Server started",
		"address", lis.Addr().String(),
		"workers", s.cfg.MaxConcurrentConns,
		"queue", s.cfg.QueueSize,
		"health", s.cfg.HealthAddress)
	return nil
}

func (s *Server) startHealthLocked() error {
	lis, err := net.Listen("tcp", s.cfg.HealthAddress)
	if err != nil {
		return NewServerError("start", err, "failed to listen on "+s.cfg.HealthAddress)
	}

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.cfg.KeepaliveTime,
			Timeout: s.cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             s.cfg.KeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health.Server())
	s.healthLis = lis

	srv := s.grpcServer
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Errorw("Health endpoint stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the line-protocol listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HealthAddr returns the gRPC health listener address, or nil if disabled.
func (s *Server) HealthAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healthLis == nil {
		return nil
	}
	return s.healthLis.Addr()
}

// State returns the server's operational state.
func (s *Server) State() ServerOperationalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connections returns the connections currently served by workers.
func (s *Server) Connections() []ConnectionInfo {
	return s.conns.Snapshot()
}

func (s *Server) acceptLoop(lis net.Listener) {
	defer s.acceptWg.Done()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Errorw("Accept failed", "error", err)
			return
		}

		select {
		case s.queue <- conn:
			s.metrics.ObserveQueueLength(len(s.queue))
		default:
			s.metrics.IncrQueueOverflow()
			s.logger.Warnw("Connection rejected; queue full", "remote_addr", conn.RemoteAddr().String())
			_, _ = fmt.Fprintln(conn, ErrorToResponse(ErrServerBusy))
			_ = conn.Close()
		}
	}
}

func (s *Server) worker(ctx context.Context, id int) {
	defer s.workerWg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case conn := <-s.queue:
			s.serve(ctx, id, conn)
		}
	}
}

// serve answers request lines on conn until the client sends EXIT, closes
// the connection, idles past ReadTimeout or the server stops.
func (s *Server) serve(ctx context.Context, worker int, conn net.Conn) {
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	remote := conn.RemoteAddr().String()
	s.conns.OnConnect(remote, worker)
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
		s.conns.OnDisconnect(remote)
	}()

	r := bufio.NewReaderSize(conn, readBufferSize)
	w := bufio.NewWriter(conn)

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		raw, tooLong, err := readLine(r, s.cfg.MaxLineLength)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.stopping() {
				s.logger.Debugw("Connection closed on read error", "remote_addr", remote, "error", err)
			}
			return
		}

		if tooLong {
			s.metrics.IncrProtocolError()
			s.logger.Debugw("Request line too long", "remote_addr", remote, "limit", s.cfg.MaxLineLength)
			if !s.reply(w, ErrorToResponse(ErrRequestTooLong), remote) {
				return
			}
			continue
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		verb, _, _ := strings.Cut(line, fieldSeparator)
		verb = strings.ToUpper(strings.TrimSpace(verb))
		if verb == VerbExit {
			return
		}
		s.conns.OnRequest(remote, verb)

		var resp string
		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.IncrRateLimited()
			resp = ErrorToResponse(ErrRateLimited)
		} else {
			resp = s.handler.Handle(ctx, line)
		}

		if !s.reply(w, resp, remote) {
			return
		}
	}
}

func (s *Server) reply(w *bufio.Writer, resp, remote string) bool {
	_, _ = w.WriteString(resp)
	_ = w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		s.logger.Debugw("Connection closed on write error", "remote_addr", remote, "error", err)
		return false
	}
	return true
}

// readLine reads one newline-terminated line. A line longer than limit is
// consumed and discarded, and reported as tooLong. A final line without a
// newline is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > limit {
				tooLong, buf = true, nil
			}
		}

		switch {
		case err == nil:
			return string(buf), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong):
			return string(buf), tooLong, nil
		default:
			return "", false, err
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ServerStateRunning {
		return false
	}
	s.open[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, conn)
}

func (s *Server) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop closes the listeners, drops open and queued connections, and waits
// for workers to exit within ShutdownTimeout or until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != ServerStateRunning {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	s.state = ServerStateStopping
	close(s.stopCh)
	_ = s.listener.Close()
	for conn := range s.open {
		_ = conn.Close()
	}
	grpcServer := s.grpcServer
	s.mu.Unlock()

	s.logger.Infow("Server stopping")
	s.acceptWg.Wait()

	done := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(done)
	}()

	var err error
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		err = ErrShutdownTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

drain:
	for {
		select {
		case conn := <-s.queue:
			_ = conn.Close()
		default:
			break drain
		}
	}

	if grpcServer != nil {
		s.health.Shutdown()
		grpcServer.GracefulStop()
	}
	s.handler.Close()

	s.mu.Lock()
	s.state = ServerStateStopped
	s.mu.Unlock()
	s.metrics.SetServerState(false, false)

	s.logger.Infow("Server stopped", "error", err)
	return err
}
