package simplesockets

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ServerOptions configures a Server. The zero value is not directly
// usable; construct with NewServer, which applies defaults and validates
// up front, so a bad configuration is rejected synchronously rather than
// surfacing later as a connection failure.
type ServerOptions struct {
	Logger                    Logger
	Policy                    Policy
	Passphrase                string
	Events                    EventHandlers
	Deserializer              ObjectDeserializer
	TLSConfig                 *tls.Config
	AcceptInvalidCertificates bool
	IdentificationTimeout     time.Duration
	BufferSize                int
	MaxFrameBytes             uint32
	MaxQueueDepth             int
	ShutdownGracePeriod       time.Duration
}

// Server is the TCP listener side: it accepts connections, applies
// admission policy, and owns the id -> Session map for its lifetime.
type Server struct {
	logger             Logger
	policy             Policy
	codec              *Codec
	dispatcher         *Dispatcher
	events             EventHandlers
	tlsConfig          *tls.Config
	acceptInvalidCerts bool
	identTimeout       time.Duration
	bufferSize         int
	maxFrameBytes      uint32
	maxQueueDepth      int
	shutdownGrace      time.Duration

	listener *net.TCPListener
	nextID   uint64

	mu       sync.RWMutex
	sessions map[uint64]*Session
	byGUID   map[string]uint64
	closed   bool

	canAccept    atomic.Bool
	cancelAccept context.CancelFunc
	wg           sync.WaitGroup
}

// NewServer validates opts and returns a Server ready for Listen.
func NewServer(opts ServerOptions) (*Server, error) {
	if err := opts.Policy.validate(); err != nil {
		return nil, err
	}
	if opts.BufferSize != 0 && opts.BufferSize < minBufferSize {
		return nil, wrapConfigError("buffer size %d below minimum %d", opts.BufferSize, minBufferSize)
	}
	if opts.ShutdownGracePeriod <= 0 {
		opts.ShutdownGracePeriod = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	srv := &Server{
		logger:             opts.Logger,
		policy:             opts.Policy,
		codec:              &Codec{Passphrase: opts.Passphrase, Logger: opts.Logger},
		events:             opts.Events,
		tlsConfig:          opts.TLSConfig,
		acceptInvalidCerts: opts.AcceptInvalidCertificates,
		identTimeout:       opts.IdentificationTimeout,
		bufferSize:         opts.BufferSize,
		maxFrameBytes:      opts.MaxFrameBytes,
		maxQueueDepth:      opts.MaxQueueDepth,
		shutdownGrace:      opts.ShutdownGracePeriod,
		sessions:           make(map[uint64]*Session),
		byGUID:             make(map[string]uint64),
	}
	srv.dispatcher = NewDispatcher(opts.Events, opts.Deserializer, opts.Logger)
	return srv, nil
}

// Listen resolves ip (empty or "*" means "any") and port, starts listening,
// and begins the accept loop. maxConnections, if > 0, overrides the
// Policy's MaxConnections; it does not set the listen backlog, which is
// the operating system's default.
func (srv *Server) Listen(ip string, port int, maxConnections int) error {
	if maxConnections > 0 {
		srv.policy.MaxConnections = maxConnections
	}

	resolvedIP := ip
	if resolvedIP == "" || resolvedIP == "*" {
		resolvedIP = "0.0.0.0"
	}

	addr := &net.TCPAddr{IP: net.ParseIP(resolvedIP), Port: port}
	if addr.IP == nil {
		return wrapConfigError("invalid listen ip %q", ip)
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	srv.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	srv.cancelAccept = cancel
	srv.canAccept.Store(true)

	srv.wg.Add(1)
	go srv.acceptLoop(ctx)

	srv.logger.Info("listening", "addr", ln.Addr())
	return nil
}

// Addr returns the listener's bound address. Only valid after Listen.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// CanAcceptConnections reports whether the server currently has room for
// another session.
func (srv *Server) CanAcceptConnections() bool {
	return srv.canAccept.Load()
}

func (srv *Server) acceptLoop(ctx context.Context) {
	defer srv.wg.Done()

	for {
		conn, err := srv.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			srv.logger.Error("accept error", "error", err)
			return
		}
		_ = conn.SetNoDelay(true)

		srv.wg.Add(1)
		go srv.handleAccepted(ctx, conn)
	}
}

func (srv *Server) handleAccepted(ctx context.Context, conn *net.TCPConn) {
	defer srv.wg.Done()

	addr := ""
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		addr = tcpAddr.IP.String()
	}

	srv.mu.RLock()
	atCapacity := len(srv.sessions) >= srv.policy.MaxConnections
	srv.mu.RUnlock()

	if atCapacity || !srv.policy.allows(addr) {
		srv.logger.Debug("rejecting connection", "addr", addr, "at_capacity", atCapacity)
		_ = conn.Close()
		return
	}

	id := atomic.AddUint64(&srv.nextID, 1)
	sess := newSession(ctx, sessionConfig{
		ID:                 id,
		Conn:               conn,
		Codec:              srv.codec,
		Dispatcher:         srv.dispatcher,
		Events:             srv.events,
		Logger:             srv.logger,
		IsClient:           false,
		TLSConfig:          srv.tlsConfig,
		AcceptInvalidCerts: srv.acceptInvalidCerts,
		IdentTimeout:       srv.identTimeout,
		InactivityTimeout:  srv.policy.InactivityTimeout,
		BufferSize:         srv.bufferSize,
		MaxFrameBytes:      srv.maxFrameBytes,
		MaxQueueDepth:      srv.maxQueueDepth,
		OnFinalized:        srv.onSessionFinalized,
		OnIdentified:       srv.trackIdentified,
	})

	srv.mu.Lock()
	srv.sessions[id] = sess
	full := len(srv.sessions) >= srv.policy.MaxConnections
	srv.mu.Unlock()
	srv.canAccept.Store(!full)

	srv.events.safeClientConnected(sess, srv.logger)

	sess.run()
}

func (srv *Server) onSessionFinalized(sess *Session, reason DisconnectReason) {
	srv.mu.Lock()
	delete(srv.sessions, sess.ID)
	if sess.GUID() != "" {
		delete(srv.byGUID, sess.GUID())
	}
	notFull := len(srv.sessions) < srv.policy.MaxConnections
	srv.mu.Unlock()
	srv.canAccept.Store(notFull)
}

// ShutdownClient closes a specific Session by id. It is a no-op if id is
// not currently connected.
func (srv *Server) ShutdownClient(id uint64, reason DisconnectReason) {
	srv.mu.RLock()
	sess, ok := srv.sessions[id]
	srv.mu.RUnlock()
	if !ok {
		return
	}
	sess.Shutdown(reason)
}

// IsClientConnected reports whether id names a currently connected Session.
func (srv *Server) IsClientConnected(id uint64) bool {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	_, ok := srv.sessions[id]
	return ok
}

// GetClient returns the Session for id, if connected.
func (srv *Server) GetClient(id uint64) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	sess, ok := srv.sessions[id]
	return sess, ok
}

// GetClientByGUID returns the Session whose identified GUID is guid, if
// connected.
func (srv *Server) GetClientByGUID(guid string) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if id, ok := srv.byGUID[guid]; ok {
		if sess, ok := srv.sessions[id]; ok {
			return sess, true
		}
	}
	for _, sess := range srv.sessions {
		if sess.GUID() == guid {
			return sess, true
		}
	}
	return nil, false
}

// ListClients returns a snapshot of all currently connected Sessions.
func (srv *Server) ListClients() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.sessions))
	for _, sess := range srv.sessions {
		out = append(out, sess)
	}
	return out
}

// trackIdentified indexes sess by its learned GUID, for GetClientByGUID.
// Session.receiveLoop calls it, through sessionConfig.OnIdentified, right
// after the Session leaves Identifying.
func (srv *Server) trackIdentified(sess *Session) {
	guid := sess.GUID()
	if guid == "" {
		return
	}
	srv.mu.Lock()
	srv.byGUID[guid] = sess.ID
	srv.mu.Unlock()
}

// RegisterDynamicCallback and UnregisterDynamicCallback proxy to the
// shared Dispatcher.
func (srv *Server) RegisterDynamicCallback(key string, h DynamicHandler) {
	srv.dispatcher.RegisterHandler(key, h)
}

func (srv *Server) UnregisterDynamicCallback(key string) {
	srv.dispatcher.UnregisterHandler(key)
}

// Close stops accepting new connections, requests a normal shutdown of
// every connected Session, waits up to ShutdownGracePeriod for them to
// finish, then hard-closes whatever remains.
func (srv *Server) Close() error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return nil
	}
	srv.closed = true
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, sess := range srv.sessions {
		sessions = append(sessions, sess)
	}
	srv.mu.Unlock()

	if srv.cancelAccept != nil {
		srv.cancelAccept()
	}
	if srv.listener != nil {
		_ = srv.listener.Close()
	}

	for _, sess := range sessions {
		sess.Shutdown(ReasonNormal)
	}

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(srv.shutdownGrace):
		srv.logger.Warn("shutdown grace period expired; hard-closing remaining sessions")
		srv.mu.RLock()
		for _, sess := range srv.sessions {
			_ = sess.conn.Close()
		}
		srv.mu.RUnlock()
	}
	return nil
}
