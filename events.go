package simplesockets

// DisconnectReason explains why a Session was closed.
type DisconnectReason int

const (
	ReasonNormal DisconnectReason = iota
	ReasonPeerClosed
	ReasonTimeout
	ReasonPolicyDenied
	ReasonProtocolError
	ReasonIoError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNormal:
		return "Normal"
	case ReasonPeerClosed:
		return "PeerClosed"
	case ReasonTimeout:
		return "Timeout"
	case ReasonPolicyDenied:
		return "PolicyDenied"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonIoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// MessageEvent is delivered for MessageReceived and the default/dynamic
// handling of MessageText frames.
type MessageEvent struct {
	Text     string
	Metadata map[string]string
}

// ObjectEvent is delivered for ObjectReceived. A deserialization failure
// fires this event with Object==nil, TypeName=="", rather than dropping
// the connection; the failure is logged separately.
type ObjectEvent struct {
	Object   any
	TypeName string
	Metadata map[string]string
}

// BytesEvent is delivered for BytesReceived.
type BytesEvent struct {
	Data     []byte
	Metadata map[string]string
}

// ObjectDeserializer turns a payload and a type name into a value. It is
// a pluggable collaborator; this package never implements one itself.
type ObjectDeserializer interface {
	Deserialize(payload []byte, typeName string) (any, error)
}

// DynamicHandler is a polymorphic handler selected by a frame's
// DynamicCallback extra-info key. Exactly one of the three methods is
// invoked, matching the frame's MessageType; the other two may be left
// nil on a given handler if that message type is never routed to it.
type DynamicHandler struct {
	OnMessage func(s *Session, e MessageEvent)
	OnObject  func(s *Session, e ObjectEvent)
	OnBytes   func(s *Session, e BytesEvent)
}

// EventHandlers holds the default (non-dynamic) event callbacks a Server
// or Client is configured with. A nil field means that event is dropped.
// Handler panics are caught, logged, and never propagate into the
// Receiver loop.
type EventHandlers struct {
	OnClientConnected    func(s *Session)
	OnClientDisconnected func(s *Session, reason DisconnectReason)
	OnSslAuthSuccess     func(s *Session)
	OnSslAuthFailed      func(s *Session, err error)
	OnMessageReceived    func(s *Session, e MessageEvent)
	OnObjectReceived     func(s *Session, e ObjectEvent)
	OnBytesReceived      func(s *Session, e BytesEvent)
}

func (h EventHandlers) safeClientConnected(s *Session, logger Logger) {
	if h.OnClientConnected == nil {
		return
	}
	defer recoverHandler(logger, "OnClientConnected")
	h.OnClientConnected(s)
}

func (h EventHandlers) safeClientDisconnected(s *Session, reason DisconnectReason, logger Logger) {
	if h.OnClientDisconnected == nil {
		return
	}
	defer recoverHandler(logger, "OnClientDisconnected")
	h.OnClientDisconnected(s, reason)
}

func (h EventHandlers) safeSslAuthSuccess(s *Session, logger Logger) {
	if h.OnSslAuthSuccess == nil {
		return
	}
	defer recoverHandler(logger, "OnSslAuthSuccess")
	h.OnSslAuthSuccess(s)
}

func (h EventHandlers) safeSslAuthFailed(s *Session, err error, logger Logger) {
	if h.OnSslAuthFailed == nil {
		return
	}
	defer recoverHandler(logger, "OnSslAuthFailed")
	h.OnSslAuthFailed(s, err)
}

func recoverHandler(logger Logger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = defaultLogger()
		}
		logger.Error("event handler panicked", "handler", name, "panic", r)
	}
}
