package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/jathurchan/ridecore/lock"
	"github.com/jathurchan/ridecore/server"
)

const (
	defaultHost       = "localhost"
	defaultPort       = "8080"
	defaultHealthPort = "9090"
	defaultTimeout    = 5 * time.Second
)

// Command-line flags
var (
	host       = flag.String("host", defaultHost, "Server hostname or IP address")
	port       = flag.String("port", defaultPort, "Line protocol port")
	healthPort = flag.String("health-port", defaultHealthPort, "gRPC health port")
	timeout    = flag.Duration("timeout", defaultTimeout, "Per-request timeout")
)

func main() {
	flag.Usage = showUsage
	flag.Parse()

	if flag.NArg() < 1 {
		showUsage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "send":
		handleSendCommand(args)
	case "shell":
		handleShellCommand()
	case "health":
		handleHealthCommand(args)
	case "help":
		showUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

// lineClient holds one protocol connection and stamps every request with
// the next tick of a local Lamport clock.
type lineClient struct {
	conn    net.Conn
	r       *bufio.Reader
	clock   *lock.LamportClock
	timeout time.Duration
}

func dial(addr string, timeout time.Duration) (*lineClient, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &lineClient{
		conn:    conn,
		r:       bufio.NewReader(conn),
		clock:   lock.NewLamportClock(),
		timeout: timeout,
	}, nil
}

// request sends a command of the form VERB;arg1;arg2 with the timestamp
// appended and returns the response line.
func (c *lineClient) request(command string) (string, error) {
	line := stampCommand(command, c.clock)
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	resp, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

func (c *lineClient) close() {
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	_, _ = io.WriteString(c.conn, server.VerbExit+"\n")
	_ = c.conn.Close()
}

func stampCommand(command string, clock *lock.LamportClock) string {
	fields := strings.Split(strings.TrimSpace(command), ";")
	verb := strings.ToUpper(strings.TrimSpace(fields[0]))
	return server.FormatRequest(verb, clock.Tick(), fields[1:]...)
}

func handleSendCommand(args []string) {
	if len(args) < 1 {
		exitWithError("A command such as LEADER_STATUS or GET_STATUS;<rideId> is required", nil)
	}

	c, err := dial(lineAddr(), *timeout)
	if err != nil {
		exitWithError("Error connecting to server", err)
	}
	defer c.close()

	failed := false
	for _, command := range args {
		resp, err := c.request(command)
		if err != nil {
			exitWithError("Error sending "+command, err)
		}
		fmt.Println(resp)
		if strings.HasPrefix(resp, server.RespError) || strings.HasPrefix(resp, server.RespFailed) {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func handleShellCommand() {
	c, err := dial(lineAddr(), *timeout)
	if err != nil {
		exitWithError("Error connecting to server", err)
	}
	defer c.close()

	fmt.Printf("Connected to %s. Type commands as VERB;arg1;arg2, or exit to quit.\n", lineAddr())
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		command := strings.TrimSpace(in.Text())
		switch strings.ToLower(command) {
		case "":
			continue
		case "exit", "quit":
			return
		}

		resp, err := c.request(command)
		if err != nil {
			exitWithError("Connection lost", err)
		}
		fmt.Println(resp)
	}
}

func handleHealthCommand(args []string) {
	target := net.JoinHostPort(*host, *healthPort)
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                server.DefaultGRPCKeepaliveTime,
			Timeout:             server.DefaultGRPCKeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	if err != nil {
		exitWithError("Error creating health client", err)
	}
	defer conn.Close()

	services := args
	if len(services) == 0 {
		services = []string{""}
	}

	client := healthpb.NewHealthClient(conn)
	unhealthy := false
	for _, service := range services {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		cancel()

		name := service
		if name == "" {
			name = "server"
		}
		switch {
		case status.Code(err) == codes.NotFound:
			fmt.Printf("%s: Unknown service\n", name)
			unhealthy = true
		case err != nil:
			exitWithError("Error checking "+name, err)
		default:
			fmt.Printf("%s: %s\n", name, formatStatus(resp.GetStatus()))
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				unhealthy = true
			}
		}
	}
	if unhealthy {
		os.Exit(1)
	}
}

var titleCaser = cases.Title(language.English)

// formatStatus renders NOT_SERVING as "Not Serving".
func formatStatus(s healthpb.HealthCheckResponse_ServingStatus) string {
	words := strings.ReplaceAll(strings.ToLower(s.String()), "_", " ")
	return titleCaser.String(words)
}

func lineAddr() string {
	return net.JoinHostPort(*host, *port)
}

// showUsage prints help information for the CLI
func showUsage() {
	fmt.Println("Ridecore CLI")
	fmt.Println("\nUsage:")
	fmt.Println(" go run cmd/client/main.go [global-options] <command> [arguments]")
	fmt.Println("\nGlobal Options:")
	fmt.Println(" -host string Server hostname or IP address (default \"localhost\")")
	fmt.Println(" -port string Line protocol port (default \"8080\")")
	fmt.Println(" -health-port string gRPC health port (default \"9090\")")
	fmt.Println(" -timeout duration Per-request timeout (default 5s)")
	fmt.Println("\nCommands:")
	fmt.Println(" send <VERB;arg1;...> [...]")
	fmt.Println("   Send one or more requests; a Lamport timestamp is appended to each")
	fmt.Println(" shell")
	fmt.Println("   Read requests from stdin until exit")
	fmt.Println(" health [service...]")
	fmt.Println("   Query the gRPC health endpoint, e.g. node_5 or datanode2")
	fmt.Println(" help")
	fmt.Println("   Show this help message")
	fmt.Println("\nExamples:")
	fmt.Println(" # Register a driver and request a ride")
	fmt.Println(" go run cmd/client/main.go send 'REGISTER_DRIVER;driver1;Downtown' 'REQUEST_RIDE;rider1;Airport;Mall'")
	fmt.Println(" # Show the current leader")
	fmt.Println(" go run cmd/client/main.go send LEADER_STATUS")
	fmt.Println(" # Check every data node")
	fmt.Println(" go run cmd/client/main.go health datanode1 datanode2 datanode3")
}

// Prints error message and exits
func exitWithError(message string, err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", message)
	}
	os.Exit(1)
}
