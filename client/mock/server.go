// Package mock provides an in-process sensor server speaking the wire
// protocol over TCP. Tests point a client at it to exercise command
// handling, telemetry flow and failure behavior without hardware.
package mock

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/envlink/protocol"
)

// knownDeviceFields are the configure-command device keys the server
// accepts. Anything else is rejected with bad_parameter.
var knownDeviceFields = map[string]bool{
	"name":         true,
	"num_channels": true,
	"dev_type":     true,
	"dev_id":       true,
	"sens_type":    true,
	"baud_rate":    true,
	"location":     true,
	"num_samples":  true,
}

// ReadingFunc produces the next telemetry reading for a connection.
type ReadingFunc func(now time.Time) protocol.Reading

// Options tune server behavior.
type Options struct {
	// TelemetryInterval is the period between telemetry messages once a
	// connection is configured. Zero disables streaming.
	TelemetryInterval time.Duration
	// NextReading generates telemetry. Required when streaming.
	NextReading ReadingFunc
	// Silent suppresses telemetry even after configure, for read
	// timeout tests.
	Silent bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is one mock sensor server bound to an ephemeral port.
type Server struct {
	opts     Options
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]bool
	closed bool

	wg sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:     opts,
		listener: ln,
		logger:   logger.With("mock_server", ln.Addr().String()),
		conns:    make(map[net.Conn]bool),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting, drops every open connection and waits for
// handler goroutines to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// DropConnections closes every open connection but keeps listening, to
// simulate a transient network failure.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	write := func(msg protocol.Message) {
		data, err := protocol.Encode(msg)
		if err != nil {
			s.logger.Error("encode failed", "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.Write(append(data, '\r', '\n'))
	}

	stopTelemetry := make(chan struct{})
	defer close(stopTelemetry)
	var telemetryOnce sync.Once

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			s.logger.Warn("undecodable message", "error", err)
			continue
		}
		if msg.Type != protocol.MsgTypeCommand {
			continue
		}

		status := s.execute(*msg.Command)
		write(protocol.NewResponse(msg.Command.ID, status))

		if status == protocol.StatusAck && msg.Command.Name == "configure" {
			telemetryOnce.Do(func() {
				if s.opts.Silent || s.opts.TelemetryInterval <= 0 || s.opts.NextReading == nil {
					return
				}
				s.wg.Add(1)
				go s.streamTelemetry(write, stopTelemetry)
			})
		}
	}
}

// execute applies a command and returns the status for its response.
func (s *Server) execute(cmd protocol.Command) protocol.CmdStatus {
	switch cmd.Name {
	case "configure":
		return validateConfigure(cmd.Parameters)
	case "disconnect":
		return protocol.StatusAck
	default:
		return protocol.StatusUnknownCommand
	}
}

func validateConfigure(params map[string]any) protocol.CmdStatus {
	raw, ok := params["devices"]
	if !ok {
		return protocol.StatusBadParameter
	}
	devices, ok := raw.([]any)
	if !ok {
		return protocol.StatusBadParameter
	}
	for _, d := range devices {
		device, ok := d.(map[string]any)
		if !ok {
			return protocol.StatusBadParameter
		}
		for key := range device {
			if !knownDeviceFields[key] {
				return protocol.StatusBadParameter
			}
		}
		if _, ok := device["name"]; !ok {
			return protocol.StatusBadParameter
		}
	}
	return protocol.StatusAck
}

func (s *Server) streamTelemetry(write func(protocol.Message), stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.TelemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			reading := s.opts.NextReading(now)
			write(protocol.NewTelemetry(protocol.FormatTelemetry(reading)))
		}
	}
}
