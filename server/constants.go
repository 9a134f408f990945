package server

import "time"

const (
	// --- Default server configuration values ---

	// DefaultListenAddress is the default address of the line-protocol endpoint.
	DefaultListenAddress = "0.0.0.0:8080"

	// DefaultMaxConcurrentConns is the default number of workers serving client connections.
	DefaultMaxConcurrentConns = 15

	// DefaultQueueSize is the default number of accepted connections that may wait for a worker.
	DefaultQueueSize = 64

	// DefaultReadTimeout is the default idle limit between two request lines.
	DefaultReadTimeout = 5 * time.Minute

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultFailoverDelay is how long a simulated failure is left unattended
	// before the server checks that a leader still exists.
	DefaultFailoverDelay = time.Second

	// DefaultMaxLineLength bounds a single request line (64KB).
	DefaultMaxLineLength = 64 * 1024

	// readBufferSize is the per-connection read buffer.
	readBufferSize = 4096

	// --- Rate limiting defaults ---

	// DefaultRateLimit is the default number of requests per window.
	DefaultRateLimit = 100

	// DefaultRateLimitBurst is the default burst size for rate limiting.
	DefaultRateLimitBurst = 200

	// DefaultRateLimitWindow is the default time window for rate limiting calculations.
	DefaultRateLimitWindow = time.Second

	// --- Health endpoint defaults ---

	// DefaultGRPCKeepaliveTime is the interval at which the health endpoint pings idle clients.
	DefaultGRPCKeepaliveTime = 30 * time.Second

	// DefaultGRPCKeepaliveTimeout is how long the health endpoint waits for a keepalive ack.
	DefaultGRPCKeepaliveTimeout = 5 * time.Second
)

// ServerOperationalState defines the possible operational states of the server.
type ServerOperationalState string

const (
	// ServerStateStarting indicates the server is in the process of starting up.
	ServerStateStarting ServerOperationalState = "starting"
	// ServerStateRunning indicates the server is running and accepting requests.
	ServerStateRunning ServerOperationalState = "running"
	// ServerStateStopping indicates the server is in the process of shutting down.
	ServerStateStopping ServerOperationalState = "stopping"
	// ServerStateStopped indicates the server has been stopped.
	ServerStateStopped ServerOperationalState = "stopped"
)

// Protocol verbs.
const (
	VerbRegisterDriver    = "REGISTER_DRIVER"
	VerbRequestRide       = "REQUEST_RIDE"
	VerbAssignDriver      = "ASSIGN_DRIVER"
	VerbAcceptRide        = "ACCEPT_RIDE"
	VerbCompleteRide      = "COMPLETE_RIDE"
	VerbCancelRide        = "CANCEL_RIDE"
	VerbCalculateFare     = "CALCULATE_FARE"
	VerbGPSUpdate         = "GPS_UPDATE"
	VerbGetStatus         = "GET_STATUS"
	VerbLeaderStatus      = "LEADER_STATUS"
	VerbSimulateFailure   = "SIMULATE_FAILURE"
	VerbFailNode          = "FAIL_NODE"
	VerbRecoverNode       = "RECOVER_NODE"
	VerbSimulatePartition = "SIMULATE_PARTITION"
	VerbRecoverPartition  = "RECOVER_PARTITION"
	VerbHealthStatus      = "HEALTH_STATUS"
	VerbBackupStatus      = "BACKUP_STATUS"
	VerbHDFSStatus        = "HDFS_STATUS"
	VerbHDFSListRides     = "HDFS_LIST_RIDES"
	VerbHDFSListDrivers   = "HDFS_LIST_DRIVERS"
	VerbExit              = "EXIT"
)

// Response prefixes.
const (
	RespSuccess = "SUCCESS"
	RespError   = "ERROR"
	RespFailed  = "FAILED"
)

// Request outcomes for metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeError   = "error"
)

const (
	fieldSeparator = ";"

	// overallService is the gRPC health service name reporting the process itself.
	overallService = ""
)
