package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sprintgate/sprintgate-go/pkg/log"
)

// DefaultPort is the gate link TCP port.
const DefaultPort = 9999

var (
	// ErrNotConnected indicates no peer is attached.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed indicates use of a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSuperseded is the reason an older connection is closed when a
	// newer secondary connects.
	ErrSuperseded = errors.New("superseded by newer connection")

	// ErrIdleTimeout indicates the peer sent nothing for longer than the
	// idle timeout.
	ErrIdleTimeout = errors.New("link idle timeout")
)

// ServerConfig configures the primary's listener.
type ServerConfig struct {
	// Address to listen on. Defaults to ":9999".
	Address string

	// MaxMessageSize defaults to DefaultMaxMessageSize.
	MaxMessageSize uint32

	// IdleTimeout closes a connection that has been silent this long.
	// Defaults to the heartbeat detection delay. Negative disables it.
	IdleTimeout time.Duration

	// Capture receives frame and link events (optional).
	Capture log.Logger

	// Logger is the operational logger.
	Logger *slog.Logger

	// OnConnect runs when a connection becomes the active one.
	OnConnect func(conn *ServerConn)

	// OnDisconnect runs after a connection's read loop ends.
	OnDisconnect func(conn *ServerConn)

	// OnMessage runs on the read goroutine for every frame.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError runs for accept and read errors. conn is nil for accept errors.
	OnError func(conn *ServerConn, err error)
}

// Server is the primary's gate link listener.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	active *ServerConn

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultHeartbeatConfig().DetectionDelay()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		config: config,
		logger: config.Logger.With("component", "transport"),
	}
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("gate link listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and the active connection and waits for all
// goroutines.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.Close()
	}

	s.wg.Wait()
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Active returns the active connection, or nil.
func (s *Server) Active() *ServerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Connected reports whether a secondary is attached.
func (s *Server) Connected() bool {
	return s.Active() != nil
}

// Send writes a frame to the active connection.
func (s *Server) Send(data []byte) error {
	conn := s.Active()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(data)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	framer := NewFramer(conn, s.config.MaxMessageSize)
	if s.config.Capture != nil {
		framer.SetCapture(s.config.Capture, connID, log.RolePrimary)
	}

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}

	s.mu.Lock()
	previous := s.active
	s.active = sconn
	s.mu.Unlock()

	if previous != nil {
		s.logger.Info("secondary reconnected, dropping previous connection",
			"previous", previous.connID, "conn_id", connID)
		previous.closeWithReason(ErrSuperseded)
	}

	captureState(s.config.Capture, log.RolePrimary, connID, sconn.remoteAddr.String(), "", linkConnected, "")
	s.logger.Info("secondary connected", "conn_id", connID, "remote", sconn.remoteAddr.String())

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	reason := sconn.readLoop()

	s.mu.Lock()
	if s.active == sconn {
		s.active = nil
	}
	s.mu.Unlock()
	sconn.Close()

	reasonText := ""
	if reason != nil {
		reasonText = reason.Error()
	}
	captureState(s.config.Capture, log.RolePrimary, connID, sconn.remoteAddr.String(), linkConnected, linkDisconnected, reasonText)
	s.logger.Info("secondary disconnected", "conn_id", connID, "reason", reasonText)

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// ServerConn is the primary's side of one secondary connection.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string

	reasonMu sync.Mutex
	reason   error
}

// RemoteAddr returns the secondary's address.
func (c *ServerConn) RemoteAddr() net.Addr { return c.remoteAddr }

// ConnID returns the connection's unique ID.
func (c *ServerConn) ConnID() string { return c.connID }

// Send writes one frame.
func (c *ServerConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *ServerConn) Done() <-chan struct{} { return c.closeCh }

func (c *ServerConn) closeWithReason(reason error) {
	c.reasonMu.Lock()
	if c.reason == nil {
		c.reason = reason
	}
	c.reasonMu.Unlock()
	c.Close()
}

func (c *ServerConn) closeReason() error {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// readLoop delivers frames until the connection fails and returns why.
func (c *ServerConn) readLoop() error {
	idle := c.server.config.IdleTimeout
	for {
		if idle > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			if reason := c.closeReason(); reason != nil {
				return reason
			}
			select {
			case <-c.closeCh:
				return ErrConnectionClosed
			default:
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = fmt.Errorf("%w: nothing received for %v", ErrIdleTimeout, idle)
			}
			if !errors.Is(err, io.EOF) {
				captureError(c.server.config.Capture, log.RolePrimary, c.connID, c.remoteAddr.String(), err, "read")
				if c.server.config.OnError != nil && c.server.running.Load() {
					c.server.config.OnError(c, err)
				}
			}
			return err
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}
