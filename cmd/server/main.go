package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/jathurchan/ridecore/backup"
	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/logger"
	"github.com/jathurchan/ridecore/monitor"
	"github.com/jathurchan/ridecore/server"
	"github.com/jathurchan/ridecore/storage"
	"github.com/jathurchan/ridecore/types"
)

const (
	AppName    = "Ridecore Server"
	AppVersion = "v1.0.0"
	AppDesc    = "Ride dispatch server with bully leader election, replicated block storage and fault monitoring"
)

const (
	exitSuccess = 0
	exitFailure = 1

	defaultDataDir        = "./ridecore-data"
	defaultNodes          = 5
	defaultDataNodes      = storage.DefaultDataNodeCount
	defaultCapacityMB     = 10
	defaultLogLevel       = "info"
	defaultStartupTimeout = 5 * time.Second
)

// serverConfig holds every command-line setting of the server process.
type serverConfig struct {
	ShowVersion bool
	LogLevel    string

	ListenAddress string
	HealthAddress string
	Workers       int
	QueueSize     int

	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	FailoverDelay   time.Duration

	EnableRateLimit bool
	RateLimit       int
	RateLimitBurst  int

	Nodes int

	DataDir           string
	DataNodes         int
	CapacityMB        int
	BlockSize         int
	ReplicationFactor int

	Monitor        monitor.Config
	ProbeViaHealth bool

	BackupInterval time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(exitFailure)
	}
	os.Exit(exitSuccess)
}

func run() error {
	cfg, err := parseAndValidateFlags()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cfg.ShowVersion {
		fmt.Printf("%s %s\n%s\n", AppName, AppVersion, AppDesc)
		return nil
	}

	log := createLogger(cfg.LogLevel)
	a, err := buildServer(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		_ = gracefulShutdown(a, cfg.ShutdownTimeout, log)
		return fmt.Errorf("failed to start server: %w", err)
	}

	waitForShutdown(log)
	cancel()
	return gracefulShutdown(a, cfg.ShutdownTimeout, log)
}

func parseAndValidateFlags() (serverConfig, error) {
	cfg := serverConfig{Monitor: monitor.DefaultConfig()}
	fs := flag.CommandLine

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.ListenAddress, "listen", server.DefaultListenAddress, "Line protocol listen address")
	fs.StringVar(&cfg.HealthAddress, "health", "", "gRPC health listen address (disabled when empty)")
	fs.IntVar(&cfg.Workers, "workers", server.DefaultMaxConcurrentConns, "Number of connection workers")
	fs.IntVar(&cfg.QueueSize, "queue", server.DefaultQueueSize, "Connections waiting for a worker before new ones are refused")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", server.DefaultReadTimeout, "Idle timeout per connection (0 disables)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", server.DefaultShutdownTimeout, "Graceful shutdown timeout")
	fs.DurationVar(&cfg.FailoverDelay, "failover-delay", server.DefaultFailoverDelay, "Delay before a leader check after a simulated failure")

	fs.BoolVar(&cfg.EnableRateLimit, "rate-limit", false, "Enable request rate limiting")
	fs.IntVar(&cfg.RateLimit, "rate", server.DefaultRateLimit, "Requests admitted per second when rate limiting")
	fs.IntVar(&cfg.RateLimitBurst, "burst", server.DefaultRateLimitBurst, "Rate limiter burst size")

	fs.IntVar(&cfg.Nodes, "nodes", defaultNodes, "Number of dispatch nodes in the election roster")

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "Directory for data node blocks and file metadata")
	fs.IntVar(&cfg.DataNodes, "datanodes", defaultDataNodes, "Number of data nodes")
	fs.IntVar(&cfg.CapacityMB, "capacity-mb", defaultCapacityMB, "Capacity of each data node in MiB")
	fs.IntVar(&cfg.BlockSize, "block-size", storage.DefaultBlockSize, "Block size in bytes")
	fs.IntVar(&cfg.ReplicationFactor, "replication", storage.DefaultReplicationFactor, "Replicas per block")

	fs.DurationVar(&cfg.Monitor.HeartbeatInterval, "heartbeat", cfg.Monitor.HeartbeatInterval, "Heartbeat interval")
	fs.DurationVar(&cfg.Monitor.DetectionInterval, "detect", cfg.Monitor.DetectionInterval, "Failure detection interval")
	fs.DurationVar(&cfg.Monitor.RecoveryInterval, "recover", cfg.Monitor.RecoveryInterval, "Recovery attempt interval")
	fs.DurationVar(&cfg.Monitor.FailureThreshold, "failure-threshold", cfg.Monitor.FailureThreshold, "Silence after which a member is counted as failed")
	fs.IntVar(&cfg.Monitor.MaxFailures, "max-failures", cfg.Monitor.MaxFailures, "Failures before a member is permanently failed")
	fs.BoolVar(&cfg.ProbeViaHealth, "probe-health", false, "Probe members through the gRPC health endpoint instead of directly")

	fs.DurationVar(&cfg.BackupInterval, "backup-interval", backup.DefaultInterval, "Interval between automated backups")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return cfg, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}
	return cfg, validateConfig(cfg)
}

func validateConfig(cfg serverConfig) error {
	switch {
	case cfg.DataDir == "":
		return errors.New("--data-dir is required")
	case cfg.ListenAddress == "":
		return errors.New("--listen is required")
	case cfg.Nodes < 1:
		return fmt.Errorf("--nodes must be at least 1, got %d", cfg.Nodes)
	case cfg.DataNodes < 1:
		return fmt.Errorf("--datanodes must be at least 1, got %d", cfg.DataNodes)
	case cfg.ReplicationFactor < 1 || cfg.ReplicationFactor > cfg.DataNodes:
		return fmt.Errorf("--replication must be between 1 and --datanodes (%d), got %d", cfg.DataNodes, cfg.ReplicationFactor)
	case cfg.CapacityMB < 1:
		return fmt.Errorf("--capacity-mb must be positive, got %d", cfg.CapacityMB)
	case cfg.BlockSize < 1:
		return fmt.Errorf("--block-size must be positive, got %d", cfg.BlockSize)
	case cfg.BackupInterval <= 0:
		return fmt.Errorf("--backup-interval must be positive, got %v", cfg.BackupInterval)
	case cfg.ProbeViaHealth && cfg.HealthAddress == "":
		return errors.New("--probe-health requires --health")
	}
	if err := cfg.Monitor.Validate(); err != nil {
		return err
	}
	return nil
}

func createLogger(level string) logger.Logger {
	return logger.NewStdLogger(level)
}

// app is the assembled process: every component the server routes to.
type app struct {
	logger logger.Logger

	coord  *election.Coordinator
	nn     *storage.NameNode
	svc    *dispatch.Service
	mon    *monitor.Monitor
	backup *backup.Manager
	health *server.HealthPublisher
	srv    *server.Server

	probeConn *grpc.ClientConn
}

func buildServer(cfg serverConfig, log logger.Logger) (*app, error) {
	a := &app{
		logger: log.WithComponent("main"),
		health: server.NewHealthPublisher(log),
	}

	ids := make([]types.NodeID, cfg.Nodes)
	for i := range ids {
		ids[i] = types.NodeID(i + 1)
	}
	coord, err := election.NewCoordinator(ids,
		election.WithLogger(log),
		election.WithRoleChangeHandler(a.health.OnRoleChange))
	if err != nil {
		return nil, fmt.Errorf("failed to create election coordinator: %w", err)
	}
	a.coord = coord
	if err := coord.DeclareLeader(ids[len(ids)-1]); err != nil {
		coord.Close()
		return nil, fmt.Errorf("failed to declare initial leader: %w", err)
	}

	if err := a.buildStorage(cfg, log); err != nil {
		coord.Close()
		return nil, err
	}

	a.svc, err = dispatch.NewService(dispatch.Dependencies{
		Clock:    lock.NewLamportClock(),
		Locks:    lock.NewTable(lock.WithLogger(log)),
		Election: coord,
		Store:    a.nn,
		Logger:   log,
	}, dispatch.DefaultConfig())
	if err != nil {
		coord.Close()
		return nil, fmt.Errorf("failed to create dispatch service: %w", err)
	}

	backupCfg := backup.DefaultConfig()
	backupCfg.Interval = cfg.BackupInterval
	a.backup, err = backup.NewManager(a.nn, backupCfg, nil, log)
	if err != nil {
		coord.Close()
		return nil, fmt.Errorf("failed to create backup manager: %w", err)
	}

	if err := a.buildMonitor(cfg, log); err != nil {
		coord.Close()
		return nil, err
	}

	a.srv, err = server.NewServerBuilder().
		WithListenAddress(cfg.ListenAddress).
		WithHealthAddress(cfg.HealthAddress).
		WithWorkers(cfg.Workers, cfg.QueueSize).
		WithTimeouts(cfg.ReadTimeout, cfg.ShutdownTimeout, cfg.FailoverDelay).
		WithRateLimit(cfg.EnableRateLimit, cfg.RateLimit, cfg.RateLimitBurst, 0).
		WithLogger(log).
		WithDispatch(a.svc).
		WithCluster(coord).
		WithStorage(a.nn).
		WithMonitor(a.mon).
		WithBackup(a.backup).
		WithHealth(a.health).
		Build()
	if err != nil {
		a.closeClients()
		coord.Close()
		return nil, err
	}
	return a, nil
}

// buildStorage opens the data nodes under the data directory and recovers
// the namespace persisted by a previous run.
func (a *app) buildStorage(cfg serverConfig, log logger.Logger) error {
	nodes := make([]*storage.DataNode, 0, cfg.DataNodes)
	for i := 1; i <= cfg.DataNodes; i++ {
		id := fmt.Sprintf("datanode%d", i)
		dn, err := storage.NewDataNode(id, filepath.Join(cfg.DataDir, id), int64(cfg.CapacityMB)<<20, log)
		if err != nil {
			return fmt.Errorf("failed to open data node %s: %w", id, err)
		}
		nodes = append(nodes, dn)
		a.health.SetMember(dn.MemberID(), true)
	}

	storageCfg := storage.DefaultConfig(filepath.Join(cfg.DataDir, "metadata"))
	storageCfg.BlockSize = cfg.BlockSize
	storageCfg.ReplicationFactor = cfg.ReplicationFactor
	storageCfg.Logger = log

	nn, err := storage.NewNameNode(storageCfg, nodes...)
	if err != nil {
		return fmt.Errorf("failed to create name node: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultStartupTimeout)
	defer cancel()
	files, err := nn.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover storage: %w", err)
	}
	a.logger.Infow("Storage recovered", "files", files, "dataDir", cfg.DataDir)
	a.nn = nn
	return nil
}

func (a *app) buildMonitor(cfg serverConfig, log logger.Logger) error {
	opts := []monitor.Option{
		monitor.WithLogger(log),
		monitor.WithHandler(monitor.MultiHandler{a.backup, storage.NewFailover(a.nn, a.backup.OnMigration)}),
		monitor.WithLeaderEnsurer(a.coord),
	}

	if cfg.ProbeViaHealth {
		conn, err := grpc.NewClient(dialTarget(cfg.HealthAddress),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                server.DefaultGRPCKeepaliveTime,
				Timeout:             server.DefaultGRPCKeepaliveTimeout,
				PermitWithoutStream: true,
			}))
		if err != nil {
			return fmt.Errorf("failed to create health probe client: %w", err)
		}
		a.probeConn = conn
		opts = append(opts, monitor.WithProber(monitor.NewGRPCProber(conn)))
	}

	mon, err := monitor.New(cfg.Monitor, opts...)
	if err != nil {
		a.closeClients()
		return fmt.Errorf("failed to create fault monitor: %w", err)
	}
	for _, m := range dispatch.Members(a.coord) {
		if err := mon.Register(m); err != nil {
			a.closeClients()
			return err
		}
	}
	for _, dn := range a.nn.DataNodes() {
		if err := mon.Register(dn); err != nil {
			a.closeClients()
			return err
		}
	}
	a.mon = mon
	return nil
}

// dialTarget turns a listen address such as ":9090" into a dialable one.
func dialTarget(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func (a *app) start(ctx context.Context) error {
	if err := a.srv.Start(ctx); err != nil {
		return err
	}
	if err := a.backup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start backups: %w", err)
	}
	if err := a.mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fault monitor: %w", err)
	}

	leader, _ := a.coord.Leader()
	a.logger.Infow("Server ready",
		"address", a.srv.Addr().String(),
		"leader", leader,
		"dataNodes", len(a.nn.DataNodes()))
	return nil
}

func (a *app) closeClients() {
	if a.probeConn != nil {
		_ = a.probeConn.Close()
		a.probeConn = nil
	}
}

func waitForShutdown(log logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	log.Infow("Received signal, initiating graceful shutdown", "signal", sig.String())
}

// gracefulShutdown stops the line server first so no request races the
// background loops being torn down.
func gracefulShutdown(a *app, timeout time.Duration, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if a.srv != nil {
		if stopErr := a.srv.Stop(ctx); stopErr != nil && !errors.Is(stopErr, server.ErrServerNotStarted) {
			err = stopErr
		}
	}
	if a.mon != nil {
		a.mon.Stop()
	}
	if a.backup != nil {
		a.backup.Stop()
	}
	a.closeClients()
	if a.coord != nil {
		a.coord.Close()
	}
	if a.nn != nil {
		log.Infow("Storage counters at shutdown", "metrics", a.nn.Metrics())
	}

	if err != nil {
		log.Errorw("Shutdown completed with errors", "error", err)
		return err
	}
	log.Infow("Shutdown complete")
	return nil
}
