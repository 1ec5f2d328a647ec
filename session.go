package simplesockets

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultIdentificationTimeout is how long a Session waits in Identifying
// for the client's first Auth frame before failing.
const DefaultIdentificationTimeout = 10 * time.Second

// errSessionTimeout is the internal cause used when a Session's configured
// inactivity timeout elapses with no inbound frame.
var errSessionTimeout = errors.New("simplesockets: session inactivity timeout")

// netConn is the connection surface a Session needs: a plain net.Conn, so
// the handshake stage can replace it with the TLS-wrapped stream.
type netConn interface {
	net.Conn
}

// Session is one live TCP (optionally TLS-wrapped) connection and its
// associated per-connection state.
type Session struct {
	ID uint64

	mu         sync.RWMutex
	state      SessionState
	guid       string
	name       string
	userDomain string
	osVersion  string
	remoteIPv4 string
	remoteIPv6 string

	conn       netConn
	codec      *Codec
	receiver   *Receiver
	dispatcher *Dispatcher
	queue      *sendQueue
	events     EventHandlers
	logger     Logger

	isClient           bool
	tlsConfig          *tls.Config
	acceptInvalidCerts bool
	identTimeout       time.Duration
	inactivityTimeout  time.Duration
	inactivityDeadline atomic.Int64 // unix nanos

	receiving atomic.Bool
	writing   atomic.Bool
	timedOut  atomic.Bool
	reachedReady atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce   sync.Once
	finalizeOnce   sync.Once
	plannedReason  *DisconnectReason
	onFinalized    func(s *Session, reason DisconnectReason)
	onIdentified   func(s *Session)
}

// sessionConfig bundles the construction-time dependencies and options for
// a Session, shared by the Listener and the Connector.
type sessionConfig struct {
	ID                 uint64
	Conn               netConn
	Codec              *Codec
	Dispatcher         *Dispatcher
	Events             EventHandlers
	Logger             Logger
	IsClient           bool
	TLSConfig          *tls.Config
	AcceptInvalidCerts bool
	IdentTimeout       time.Duration
	InactivityTimeout  time.Duration
	BufferSize         int
	MaxFrameBytes      uint32
	MaxQueueDepth      int
	OnFinalized        func(s *Session, reason DisconnectReason)
	OnIdentified       func(s *Session)
}

func newSession(parent context.Context, cfg sessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	identTimeout := cfg.IdentTimeout
	if identTimeout <= 0 {
		identTimeout = DefaultIdentificationTimeout
	}

	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		ID:                 cfg.ID,
		state:               StateCreated,
		conn:                cfg.Conn,
		codec:               cfg.Codec,
		dispatcher:          cfg.Dispatcher,
		events:              cfg.Events,
		logger:              logger,
		isClient:            cfg.IsClient,
		tlsConfig:           cfg.TLSConfig,
		acceptInvalidCerts:  cfg.AcceptInvalidCerts,
		identTimeout:        identTimeout,
		inactivityTimeout:   cfg.InactivityTimeout,
		ctx:                 ctx,
		cancel:              cancel,
		onFinalized:         cfg.OnFinalized,
		onIdentified:        cfg.OnIdentified,
		queue:               newSendQueue(cfg.MaxQueueDepth),
	}

	s.receiver = NewReceiver(cfg.Conn, cfg.Codec, cfg.BufferSize, cfg.MaxFrameBytes, logger)
	s.resetInactivityDeadline()

	if tcpAddr, ok := cfg.Conn.RemoteAddr().(*net.TCPAddr); ok {
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			s.remoteIPv4 = ip4.String()
		} else {
			s.remoteIPv6 = tcpAddr.IP.String()
		}
	}

	return s
}

// State returns the Session's current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GUID, Name, UserDomain, OSVersion return the identity fields learned (or
// not yet learned) from the Auth frame.
func (s *Session) GUID() string       { s.mu.RLock(); defer s.mu.RUnlock(); return s.guid }
func (s *Session) Name() string       { s.mu.RLock(); defer s.mu.RUnlock(); return s.name }
func (s *Session) UserDomain() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.userDomain }
func (s *Session) OSVersion() string  { s.mu.RLock(); defer s.mu.RUnlock(); return s.osVersion }

// RemoteIPv4 and RemoteIPv6 return the peer's textual address forms; at
// most one is typically non-empty for a given connection.
func (s *Session) RemoteIPv4() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.remoteIPv4 }
func (s *Session) RemoteIPv6() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.remoteIPv6 }

// IsReceiving, IsWriting, IsTimedOut expose the Session's liveness flags.
func (s *Session) IsReceiving() bool { return s.receiving.Load() }
func (s *Session) IsWriting() bool   { return s.writing.Load() }
func (s *Session) IsTimedOut() bool  { return s.timedOut.Load() }

func (s *Session) setIdentity(name, guid, userDomain, osVersion string) {
	s.mu.Lock()
	s.name = name
	s.guid = guid
	s.userDomain = userDomain
	s.osVersion = osVersion
	s.mu.Unlock()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) resetInactivityDeadline() {
	if s.inactivityTimeout <= 0 {
		return
	}
	s.inactivityDeadline.Store(time.Now().Add(s.inactivityTimeout).UnixNano())
}

// run drives the Session's full lifecycle: optional TLS handshake,
// identification, then the concurrent receive/send/watchdog tasks, until
// the Session terminates. It always returns after exactly one finalize.
func (s *Session) run() {
	if s.tlsConfig != nil {
		s.setState(StateHandshakingTLS)
		if err := s.handshakeTLS(); err != nil {
			s.finalize(fmt.Errorf("%w: %v", ErrTlsError, err), StateFailed)
			return
		}
	}

	s.setState(StateIdentifying)

	group, gctx := errgroup.WithContext(s.ctx)
	group.Go(func() error { return s.receiveLoop(gctx) })
	group.Go(func() error { return s.sendLoop(gctx) })
	if s.inactivityTimeout > 0 {
		group.Go(func() error { return s.inactivityWatcher(gctx) })
	}
	group.Go(func() error { return s.identTimeoutWatcher(gctx) })

	err := group.Wait()

	finalState := StateClosed
	if !s.reachedReady.Load() && (errors.Is(err, ErrTlsError) || errors.Is(err, ErrIdentificationTimeout)) {
		finalState = StateFailed
	}
	s.finalize(err, finalState)
}

func (s *Session) handshakeTLS() error {
	var tlsConn *tls.Conn
	if s.isClient {
		tlsConn = tls.Client(s.conn, s.tlsConfig)
	} else {
		tlsConn = tls.Server(s.conn, s.tlsConfig)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.identTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if !s.acceptInvalidCerts {
			s.events.safeSslAuthFailed(s, err, s.logger)
			return err
		}
		s.logger.Warn("tls handshake reported an error but AcceptInvalidCertificates is set; continuing", "error", err)
	}

	s.conn = tlsConn
	s.receiver = NewReceiver(tlsConn, s.codec, s.receiver.bufferSize, s.receiver.maxFrameBytes, s.logger)
	s.events.safeSslAuthSuccess(s, s.logger)
	return nil
}

func (s *Session) receiveLoop(ctx context.Context) error {
	s.receiving.Store(true)
	defer s.receiving.Store(false)

	for {
		frame, err := s.receiver.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}

		s.resetInactivityDeadline()

		if frame.Type == MessageAuth {
			if derr := s.dispatcher.Dispatch(s, frame); derr != nil {
				return derr
			}
			if s.State() == StateIdentifying {
				s.reachedReady.Store(true)
				s.setState(StateReady)
				if s.onIdentified != nil {
					s.onIdentified(s)
				}
			}
			continue
		}

		if err := s.dispatcher.Dispatch(s, frame); err != nil {
			return err
		}
	}
}

func (s *Session) sendLoop(ctx context.Context) error {
	s.writing.Store(true)
	defer s.writing.Store(false)

	for {
		item, ok := s.queue.dequeue(ctx)
		if !ok {
			return ctx.Err()
		}

		err := s.writeRaw(item.raw)
		if item.done != nil {
			item.done <- err
			close(item.done)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}
}

func (s *Session) writeRaw(raw []byte) error {
	_, err := s.conn.Write(raw)
	return err
}

func (s *Session) identTimeoutWatcher(ctx context.Context) error {
	timer := time.NewTimer(s.identTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		if s.State() == StateIdentifying {
			return fmt.Errorf("%w", ErrIdentificationTimeout)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) inactivityWatcher(ctx context.Context) error {
	poll := s.inactivityTimeout / 4
	if poll < time.Second {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deadline := time.Unix(0, s.inactivityDeadline.Load())
			if time.Now().After(deadline) {
				s.timedOut.Store(true)
				return fmt.Errorf("%w", errSessionTimeout)
			}
		}
	}
}

// Shutdown begins closing the Session with reason. It is idempotent and
// safe to call concurrently with an in-flight peer-initiated close; exactly
// one disconnection event ever fires regardless of which side triggers it.
func (s *Session) Shutdown(reason DisconnectReason) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		r := reason
		s.plannedReason = &r
		s.state = StateClosing
		s.mu.Unlock()
		s.cancel()
	})
}

// finalize tears the Session down exactly once: closes the socket, closes
// the send queue, sets the terminal state, and fires exactly one
// ClientDisconnected event.
func (s *Session) finalize(cause error, finalState SessionState) {
	s.finalizeOnce.Do(func() {
		_ = s.conn.Close()
		s.queue.close()

		s.mu.Lock()
		s.state = finalState
		planned := s.plannedReason
		s.mu.Unlock()

		reason := ReasonNormal
		if planned != nil {
			reason = *planned
		} else {
			reason = classifyCloseReason(cause)
		}

		if s.onFinalized != nil {
			s.onFinalized(s, reason)
		}

		s.events.safeClientDisconnected(s, reason, s.logger)
	})
}

func classifyCloseReason(err error) DisconnectReason {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ReasonNormal
	case errors.Is(err, io.EOF):
		return ReasonPeerClosed
	case errors.Is(err, ErrUnexpectedEOF):
		return ReasonIoError
	case errors.Is(err, errSessionTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrUnsupportedVersion),
		errors.Is(err, ErrMalformedAuth),
		errors.Is(err, ErrTlsError),
		errors.Is(err, ErrIdentificationTimeout):
		return ReasonProtocolError
	case errors.Is(err, ErrIoError):
		return ReasonIoError
	default:
		return ReasonIoError
	}
}

// --- send operations -------------------------------------------------

// canQueue reports whether a frame of type t may be enqueued given the
// Session's current state.
func (s *Session) canQueue(t MessageType) bool {
	switch s.State() {
	case StateReady:
		return true
	case StateCreated, StateIdentifying:
		return t == MessageAuth
	case StateHandshakingTLS:
		return true
	default:
		return false
	}
}

func (s *Session) enqueue(f *Frame, wantCompletion bool) (*Future, error) {
	if !s.canQueue(f.Type) {
		return nil, ErrNotConnected
	}

	raw, err := s.codec.Encode(f)
	if err != nil {
		return nil, err
	}

	item := &queuedFrame{raw: raw}
	if wantCompletion {
		item.done = make(chan error, 1)
	}

	if err := s.queue.enqueue(item); err != nil {
		return nil, err
	}

	if item.done != nil {
		return &Future{done: item.done}, nil
	}
	return nil, nil
}

// SendMessage synchronously queues a text frame for delivery.
func (s *Session) SendMessage(text string, opts ...SendOption) error {
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageText, []byte(text))
	_, err := s.enqueue(f, false)
	return err
}

// SendMessageAsync queues a text frame and returns a Future resolving once
// the bytes reach the socket.
func (s *Session) SendMessageAsync(text string, opts ...SendOption) (*Future, error) {
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageText, []byte(text))
	return s.enqueue(f, true)
}

// SendBytes synchronously queues a byte-payload frame for delivery. It
// always supplies metadata=none unless WithMetadata is passed explicitly.
func (s *Session) SendBytes(data []byte, opts ...SendOption) error {
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageBytes, data)
	_, err := s.enqueue(f, false)
	return err
}

// SendBytesAsync is the asynchronous counterpart of SendBytes.
func (s *Session) SendBytesAsync(data []byte, opts ...SendOption) (*Future, error) {
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageBytes, data)
	return s.enqueue(f, true)
}

// SendObject synchronously queues an already-serialized object payload
// under typeName. Serialization is left to the caller: it obtains
// payload/typeName from its own serializer.
func (s *Session) SendObject(payload []byte, typeName string, opts ...SendOption) error {
	opts = append(opts, withTypeName(typeName))
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageObject, payload)
	_, err := s.enqueue(f, false)
	return err
}

// SendObjectAsync is the asynchronous counterpart of SendObject.
func (s *Session) SendObjectAsync(payload []byte, typeName string, opts ...SendOption) (*Future, error) {
	opts = append(opts, withTypeName(typeName))
	o := buildSendOptions(opts...)
	f := o.buildFrame(MessageObject, payload)
	return s.enqueue(f, true)
}

// sendAuth is used internally by the Connector right after it builds the
// Session, while it is still Created; the frame waits in the queue and is
// the first one the send loop writes, after any TLS handshake.
func (s *Session) sendAuth(name, guid, userDomain, osVersion string) error {
	payload := []byte(name + "|" + guid + "|" + userDomain + "|" + osVersion)
	f := NewFrame(MessageAuth, payload)
	_, err := s.enqueue(f, false)
	return err
}

// sendKeepAlive is used internally by the Connector's liveness probe.
func (s *Session) sendKeepAlive() error {
	f := NewFrame(MessageKeepAlive, nil)
	_, err := s.enqueue(f, false)
	return err
}

// QueueDepth returns the number of frames currently queued for send.
func (s *Session) QueueDepth() int {
	return s.queue.depth()
}
