package eventbus

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultNATSPort is the default TCP port for the embedded NATS server.
	DefaultNATSPort = 4222

	// DefaultNATSMaxMem is the default JetStream memory limit (256 MiB).
	DefaultNATSMaxMem = 256 << 20

	// DefaultNATSMaxStore is the default JetStream file storage limit (1 GiB).
	DefaultNATSMaxStore = 1 << 30
)

// ServerConfig holds configuration for the embedded NATS server.
type ServerConfig struct {
	Host     string // listen host (default: 127.0.0.1)
	Port     int    // TCP port; -1 picks a random port
	StoreDir string // JetStream file storage directory
	Token    string // optional client auth token
}

// Server wraps an embedded NATS server with JetStream and an in-process
// connection for the service's own consumer.
type Server struct {
	server *server.Server
	conn   *nats.Conn
}

// StartServer creates and starts an embedded NATS server with JetStream and
// ensures the lifecycle stream exists.
func StartServer(cfg ServerConfig) (*Server, error) {
	if cfg.StoreDir == "" {
		return nil, fmt.Errorf("NATS store dir is required")
	}
	if err := os.MkdirAll(cfg.StoreDir, 0700); err != nil {
		return nil, fmt.Errorf("create NATS store dir: %w", err)
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultNATSPort
	}

	opts := &server.Options{
		ServerName:         "bblifecycle",
		Host:               host,
		Port:               port,
		JetStream:          true,
		JetStreamMaxMemory: DefaultNATSMaxMem,
		JetStreamMaxStore:  DefaultNATSMaxStore,
		StoreDir:           cfg.StoreDir,
		NoLog:              true,
		NoSigs:             true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server failed to become ready within 10 seconds")
	}

	nc, err := Connect(ns.ClientURL(), cfg.Token)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}

	return &Server{server: ns, conn: nc}, nil
}

// Connect dials a NATS server and returns the connection.
func Connect(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("bblifecycle"),
		nats.MaxReconnects(-1),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// JetStream returns a JetStream context on nc with the lifecycle stream
// created.
func JetStream(nc *nats.Conn) (nats.JetStreamContext, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}
	if err := EnsureStreams(js); err != nil {
		return nil, err
	}
	return js, nil
}

// Conn returns the in-process NATS connection.
func (s *Server) Conn() *nats.Conn {
	return s.conn
}

// ClientURL returns the URL clients use to reach the server.
func (s *Server) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown drains the in-process connection, then stops the server and
// waits for completion.
func (s *Server) Shutdown() {
	if s.conn != nil {
		_ = s.conn.Drain()
		s.conn.Close()
	}
	if s.server != nil {
		s.server.Shutdown()
		s.server.WaitForShutdown()
	}
}
