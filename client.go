package simplesockets

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReconnectInterval is used when Connect is called with
// reconnectInSeconds <= 0.
const DefaultReconnectInterval = 5 * time.Second

// MinReconnectInterval is the smallest accepted reconnect delay.
const MinReconnectInterval = 1 * time.Second

// keepAliveProbeInterval is how often the Connector sends a KeepAlive frame
// while its Session is Ready.
const keepAliveProbeInterval = 15000 * time.Millisecond

// ClientOptions configures a Client.
type ClientOptions struct {
	Logger                    Logger
	Passphrase                string
	Events                    EventHandlers
	Deserializer              ObjectDeserializer
	Name                      string
	GUID                      string
	UserDomain                string
	OSVersion                 string
	TLSConfig                 *tls.Config
	AcceptInvalidCertificates bool
	IdentificationTimeout     time.Duration
	InactivityTimeout         time.Duration
	BufferSize                int
	MaxFrameBytes             uint32
	MaxQueueDepth             int
	DialTimeout               time.Duration
}

// Client is the Connector side: it dials a server, performs identification,
// and reconnects on disconnection until Close is called.
type Client struct {
	opts       ClientOptions
	logger     Logger
	codec      *Codec
	dispatcher *Dispatcher

	mu   sync.RWMutex
	sess *Session

	addr               string
	reconnectInterval  time.Duration
	ctx                context.Context
	cancel             context.CancelFunc
	closed             atomic.Bool
	wg                 sync.WaitGroup
}

// NewClient validates opts and returns a Client ready for Connect.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BufferSize != 0 && opts.BufferSize < minBufferSize {
		return nil, wrapConfigError("buffer size %d below minimum %d", opts.BufferSize, minBufferSize)
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	c := &Client{
		opts:   opts,
		logger: opts.Logger,
		codec:  &Codec{Passphrase: opts.Passphrase, Logger: opts.Logger},
	}
	c.dispatcher = NewDispatcher(opts.Events, opts.Deserializer, opts.Logger)
	return c, nil
}

// Connect dials ip:port and starts identification. reconnectInSeconds, if
// <= 0, uses DefaultReconnectInterval; values below MinReconnectInterval
// are raised to it. On any later disconnection the Client automatically
// redials after the reconnect interval until Close is called.
func (c *Client) Connect(ip string, port int, reconnectInSeconds int) error {
	interval := time.Duration(reconnectInSeconds) * time.Second
	if reconnectInSeconds <= 0 {
		interval = DefaultReconnectInterval
	} else if interval < MinReconnectInterval {
		interval = MinReconnectInterval
	}

	c.mu.Lock()
	c.addr = net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	c.reconnectInterval = interval
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = ctx
	c.cancel = cancel

	if err := c.dialAndRun(ctx); err != nil {
		c.logger.Warn("initial connect failed, will retry", "addr", c.addr, "error", err)
	}

	c.wg.Add(1)
	go c.reconnectLoop(ctx)

	return nil
}

func (c *Client) dialAndRun(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	tcpConn, _ := conn.(*net.TCPConn)
	if tcpConn != nil {
		_ = tcpConn.SetNoDelay(true)
	}

	sess := newSession(ctx, sessionConfig{
		ID:                 1,
		Conn:               conn,
		Codec:              c.codec,
		Dispatcher:         c.dispatcher,
		Events:             c.opts.Events,
		Logger:             c.logger,
		IsClient:           true,
		TLSConfig:          c.opts.TLSConfig,
		AcceptInvalidCerts: c.opts.AcceptInvalidCertificates,
		IdentTimeout:       c.opts.IdentificationTimeout,
		InactivityTimeout:  c.opts.InactivityTimeout,
		BufferSize:         c.opts.BufferSize,
		MaxFrameBytes:      c.opts.MaxFrameBytes,
		MaxQueueDepth:      c.opts.MaxQueueDepth,
		OnFinalized:        c.onSessionFinalized,
	})

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	c.opts.Events.safeClientConnected(sess, c.logger)

	if err := sess.sendAuth(c.opts.Name, c.opts.GUID, c.opts.UserDomain, c.opts.OSVersion); err != nil {
		c.logger.Error("sending identification frame failed", "error", err)
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		sess.run()
	}()
	go func() {
		defer c.wg.Done()
		c.keepAliveProbe(ctx, sess)
	}()

	return nil
}

// keepAliveProbe queues a KeepAlive frame every keepAliveProbeInterval
// while the Session is Ready. The Receiver's read deadline only bounds each
// poll for cancellation and never ends the Session; a dead peer surfaces as
// a failed socket read or a failed write of a queued frame (this KeepAlive
// included), which ends the Session and lets reconnectLoop redial.
func (c *Client) keepAliveProbe(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(keepAliveProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if sess.State() != StateReady {
				continue
			}
			if err := sess.sendKeepAlive(); err != nil {
				sess.Shutdown(ReasonIoError)
				return
			}
		}
	}
}

func (c *Client) onSessionFinalized(sess *Session, reason DisconnectReason) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
}

func (c *Client) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		sess := c.sess
		interval := c.reconnectInterval
		c.mu.RUnlock()

		if sess == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			if err := c.dialAndRun(ctx); err != nil {
				c.logger.Warn("reconnect attempt failed", "addr", c.addr, "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-sess.ctx.Done():
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			if err := c.dialAndRun(ctx); err != nil {
				c.logger.Warn("reconnect attempt failed", "addr", c.addr, "error", err)
			}
		}
	}
}

// Session returns the Client's current Session, or nil if not presently
// connected.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// IsConnected reports whether the Client currently has a Ready Session.
func (c *Client) IsConnected() bool {
	sess := c.Session()
	return sess != nil && sess.State() == StateReady
}

// SendMessage, SendBytes, and SendObject proxy to the current Session's
// send API, returning ErrNotConnected when there is no live connection.
func (c *Client) SendMessage(text string, opts ...SendOption) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.SendMessage(text, opts...)
}

func (c *Client) SendBytes(data []byte, opts ...SendOption) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.SendBytes(data, opts...)
}

func (c *Client) SendObject(payload []byte, typeName string, opts ...SendOption) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.SendObject(payload, typeName, opts...)
}

// RegisterDynamicCallback and UnregisterDynamicCallback proxy to the
// shared Dispatcher.
func (c *Client) RegisterDynamicCallback(key string, h DynamicHandler) {
	c.dispatcher.RegisterHandler(key, h)
}

func (c *Client) UnregisterDynamicCallback(key string) {
	c.dispatcher.UnregisterHandler(key)
}

// Close stops the reconnect loop and closes the current Session, if any.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}

	sess := c.Session()
	if sess != nil {
		sess.Shutdown(ReasonNormal)
	}

	c.wg.Wait()
	return nil
}
