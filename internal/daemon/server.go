package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"go.olrik.dev/logwarden/internal/db"
)

// Control opcodes. Each connection carries exactly one, newline terminated.
const (
	OpAttach    = "ATTACH"
	OpHandshake = "HANDSHAKE"
	OpStatus    = "STATUS"
)

const (
	opcodeReadTimeout = 5 * time.Second
	maxOpcodeLength   = 64
)

// ControlServer accepts control connections and dispatches their opcode
type ControlServer struct {
	registry    *Registry
	status      func() Response
	readTimeout time.Duration
	events      EventRecorder
}

// NewControlServer creates a server that attaches subscribers to registry and
// answers STATUS with the document built by status.
func NewControlServer(registry *Registry, status func() Response) *ControlServer {
	return &ControlServer{
		registry:    registry,
		status:      status,
		readTimeout: opcodeReadTimeout,
	}
}

// SetEventRecorder sets where subscriber events are journaled
func (s *ControlServer) SetEventRecorder(rec EventRecorder) {
	s.events = rec
}

// Listen binds the control socket. An address starting with "@" lives in the
// abstract namespace. A socket file nobody answers on is stale and gets
// replaced; one that answers means another daemon owns it.
func Listen(address string) (net.Listener, error) {
	listener, err := net.Listen("unix", address)
	if err == nil {
		return listener, nil
	}

	conn, dialErr := net.DialTimeout("unix", address, time.Second)
	if dialErr == nil {
		conn.Close()
		return nil, ErrAlreadyRunning
	}

	if strings.HasPrefix(address, "@") {
		return nil, fmt.Errorf("could not create socket listener: %w", err)
	}
	if _, statErr := os.Stat(address); statErr != nil {
		return nil, fmt.Errorf("could not create socket listener: %w", err)
	}

	slog.Info("Removing stale socket file", "path", address)
	if removeErr := os.Remove(address); removeErr != nil {
		return nil, fmt.Errorf("could not remove stale socket: %w", removeErr)
	}
	listener, err = net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("could not create socket listener: %w", err)
	}
	return listener, nil
}

// Serve accepts connections on listener until ctx is cancelled, handling each
// on its own goroutine. The listener is closed on return.
func (s *ControlServer) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()
	defer listener.Close()

	slog.Info("Control server listening", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("Error accepting connection", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *ControlServer) handleConnection(conn net.Conn) {
	if pid, uid, ok := peerCredentials(conn); ok {
		slog.Debug("Control connection accepted", "peer_pid", pid, "peer_uid", uid)
	}

	opcode, err := s.readOpcode(conn)
	if err != nil {
		slog.Debug("Failed to read opcode", "error", err)
		conn.Close()
		return
	}

	switch opcode {
	case OpAttach:
		// The registry owns the connection from here on
		s.registry.SetSink(ChannelEvent, conn)
		slog.Info("Subscriber attached", "channel", ChannelEvent)
		recordEvent(s.events, db.CategorySubscriber, "attach", conn.RemoteAddr().String())
		return

	case OpHandshake:
		if _, err := conn.Write([]byte(OpHandshake + "\n")); err != nil {
			slog.Debug("Failed to answer handshake", "error", err)
		}

	case OpStatus:
		response := s.status()
		if _, err := conn.Write([]byte(response.ToJSON())); err != nil {
			slog.Debug("Failed to send status", "error", err)
		}

	default:
		slog.Debug("Ignoring unknown opcode", "opcode", opcode)
	}
	conn.Close()
}

func (s *ControlServer) readOpcode(conn net.Conn) (string, error) {
	if s.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, maxOpcodeLength), maxOpcodeLength)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("connection closed before opcode")
	}

	opcode := strings.TrimSpace(scanner.Text())
	if opcode == "" {
		return "", errors.New("empty opcode")
	}
	return opcode, nil
}
