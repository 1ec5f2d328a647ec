package simplesockets

import (
	"fmt"
	"strings"
	"sync"
)

// Dispatcher turns a decoded Frame into a user-visible event. It is
// shared across all Sessions on the server side and is a singleton on
// the client side.
type Dispatcher struct {
	mu           sync.RWMutex
	handlers     map[string]DynamicHandler
	events       EventHandlers
	deserializer ObjectDeserializer
	logger       Logger
}

// NewDispatcher builds a Dispatcher with the given default event handlers.
// deserializer may be nil, in which case every Object frame is reported as
// a deserialization failure (null object, null type).
func NewDispatcher(events EventHandlers, deserializer ObjectDeserializer, logger Logger) *Dispatcher {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Dispatcher{
		handlers:     make(map[string]DynamicHandler),
		events:       events,
		deserializer: deserializer,
		logger:       logger,
	}
}

// RegisterHandler associates key with h. Frames whose ExtraInfo carries a
// matching DynamicCallback key are routed to h instead of the default
// event for their MessageType.
func (d *Dispatcher) RegisterHandler(key string, h DynamicHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[key] = h
}

// UnregisterHandler removes key, reverting frames carrying it to
// default-event behavior.
func (d *Dispatcher) UnregisterHandler(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, key)
}

// Dispatch handles one decoded frame for Session s. Auth and KeepAlive
// frames never produce a user event; all other types are routed to a
// dynamic handler if one is registered for the frame's callback key,
// otherwise to the default event for the frame's MessageType.
func (d *Dispatcher) Dispatch(s *Session, f *Frame) error {
	switch f.Type {
	case MessageAuth:
		return d.handleAuth(s, f)
	case MessageKeepAlive:
		s.resetInactivityDeadline()
		return nil
	default:
		d.dispatchDefault(s, f)
		return nil
	}
}

// handleAuth parses the identification payload "name|guid|user_domain|os_version"
// and updates Session identity fields. It never emits a user event.
func (d *Dispatcher) handleAuth(s *Session, f *Frame) error {
	fields := strings.Split(string(f.Payload), "|")
	if len(fields) != 4 {
		return fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedAuth, len(fields))
	}

	s.setIdentity(fields[0], fields[1], fields[2], fields[3])
	return nil
}

func (d *Dispatcher) dispatchDefault(s *Session, f *Frame) {
	key := ""
	if f.ExtraInfo != nil {
		key = f.ExtraInfo[extraInfoCallbackKey]
	}

	var handler DynamicHandler
	haveHandler := false
	if key != "" {
		d.mu.RLock()
		handler, haveHandler = d.handlers[key]
		d.mu.RUnlock()
	}

	switch f.Type {
	case MessageText:
		event := MessageEvent{Text: string(f.Payload), Metadata: f.Metadata}
		if haveHandler && handler.OnMessage != nil {
			d.invoke("DynamicHandler.OnMessage", func() { handler.OnMessage(s, event) })
			return
		}
		if d.events.OnMessageReceived != nil {
			d.invoke("OnMessageReceived", func() { d.events.OnMessageReceived(s, event) })
		}

	case MessageBytes:
		event := BytesEvent{Data: f.Payload, Metadata: f.Metadata}
		if haveHandler && handler.OnBytes != nil {
			d.invoke("DynamicHandler.OnBytes", func() { handler.OnBytes(s, event) })
			return
		}
		if d.events.OnBytesReceived != nil {
			d.invoke("OnBytesReceived", func() { d.events.OnBytesReceived(s, event) })
		}

	case MessageObject:
		event := d.deserializeObject(f)
		if haveHandler && handler.OnObject != nil {
			d.invoke("DynamicHandler.OnObject", func() { handler.OnObject(s, event) })
			return
		}
		if d.events.OnObjectReceived != nil {
			d.invoke("OnObjectReceived", func() { d.events.OnObjectReceived(s, event) })
		}
	}
}

// deserializeObject: a non-null deserialized object fires the event with
// that object; a failure (or no deserializer configured) logs an error
// and fires the event with a null object and empty type name, but never
// drops the connection.
func (d *Dispatcher) deserializeObject(f *Frame) ObjectEvent {
	typeName := ""
	if f.ExtraInfo != nil {
		typeName = f.ExtraInfo[extraInfoTypeKey]
	}

	if d.deserializer == nil {
		d.logger.Error("object deserialization failed", "error", "no deserializer configured", "type", typeName)
		return ObjectEvent{Metadata: f.Metadata}
	}

	obj, err := d.deserializer.Deserialize(f.Payload, typeName)
	if err != nil {
		d.logger.Error("object deserialization failed", "error", fmt.Errorf("%w: %v", ErrDeserialization, err), "type", typeName)
		return ObjectEvent{Metadata: f.Metadata}
	}

	return ObjectEvent{Object: obj, TypeName: typeName, Metadata: f.Metadata}
}

// invoke runs fn, recovering and logging any panic so that a misbehaving
// handler never takes down the Receiver loop.
func (d *Dispatcher) invoke(name string, fn func()) {
	defer recoverHandler(d.logger, name)
	fn()
}
