package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sprintgate/sprintgate-go/pkg/log"
)

// DefaultConnectTimeout bounds a dial attempt.
const DefaultConnectTimeout = 5 * time.Second

// DialConfig configures the secondary's outgoing connection.
type DialConfig struct {
	// MaxMessageSize defaults to DefaultMaxMessageSize.
	MaxMessageSize uint32

	// ConnectTimeout applies when ctx has no deadline.
	ConnectTimeout time.Duration

	// Capture receives frame and link events (optional).
	Capture log.Logger
}

// Dial connects to the primary at address.
func Dial(ctx context.Context, address string, config DialConfig) (*ClientConn, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	connID := uuid.New().String()
	framer := NewFramer(conn, config.MaxMessageSize)
	if config.Capture != nil {
		framer.SetCapture(config.Capture, connID, log.RoleSecondary)
	}
	captureState(config.Capture, log.RoleSecondary, connID, address, "", linkConnected, "")

	return &ClientConn{
		conn:    conn,
		framer:  framer,
		connID:  connID,
		capture: config.Capture,
		closeCh: make(chan struct{}),
	}, nil
}

// ClientConn is the secondary's side of the gate link.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	connID  string
	capture log.Logger
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// ConnID returns the connection's unique ID.
func (c *ClientConn) ConnID() string { return c.connID }

// LocalAddr returns the local address.
func (c *ClientConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the primary's address.
func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send writes one frame.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one frame. A positive timeout bounds the wait.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	data, err := c.framer.ReadFrame()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
	}
	return data, err
}

// Done is closed when the connection is closed.
func (c *ClientConn) Done() <-chan struct{} { return c.closeCh }

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		captureState(c.capture, log.RoleSecondary, c.connID, c.conn.RemoteAddr().String(), linkConnected, linkDisconnected, "")
	})
	return err
}
