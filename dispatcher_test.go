package simplesockets

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type stubDeserializer struct {
	obj any
	err error
}

func (d stubDeserializer) Deserialize(payload []byte, typeName string) (any, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.obj, nil
}

func newTestSession(t *testing.T, events EventHandlers, deserializer ObjectDeserializer) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })

	codec := NewCodec("")
	dispatcher := NewDispatcher(events, deserializer, nil)
	return newSession(context.Background(), sessionConfig{
		ID:         1,
		Conn:       server,
		Codec:      codec,
		Dispatcher: dispatcher,
		Events:     events,
		IsClient:   false,
	})
}

func TestDispatchAuthUpdatesIdentityWithoutEvent(t *testing.T) {
	var gotMessage bool
	events := EventHandlers{OnMessageReceived: func(s *Session, e MessageEvent) { gotMessage = true }}
	sess := newTestSession(t, events, nil)

	f := NewFrame(MessageAuth, []byte("alice|g-1|WORKGROUP|linux"))
	if err := sess.dispatcher.Dispatch(sess, f); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if sess.Name() != "alice" || sess.GUID() != "g-1" || sess.UserDomain() != "WORKGROUP" || sess.OSVersion() != "linux" {
		t.Errorf("identity = %q/%q/%q/%q, want alice/g-1/WORKGROUP/linux",
			sess.Name(), sess.GUID(), sess.UserDomain(), sess.OSVersion())
	}
	if gotMessage {
		t.Error("Auth frame should never fire MessageReceived")
	}
}

func TestDispatchAuthRejectsMalformedPayload(t *testing.T) {
	sess := newTestSession(t, EventHandlers{}, nil)
	f := NewFrame(MessageAuth, []byte("too|few|fields"))
	if err := sess.dispatcher.Dispatch(sess, f); !errors.Is(err, ErrMalformedAuth) {
		t.Errorf("Dispatch error = %v, want ErrMalformedAuth", err)
	}
}

func TestDispatchKeepAliveResetsDeadlineWithoutEvent(t *testing.T) {
	var fired bool
	events := EventHandlers{OnBytesReceived: func(s *Session, e BytesEvent) { fired = true }}
	sess := newTestSession(t, events, nil)
	sess.inactivityTimeout = time.Minute
	sess.inactivityDeadline.Store(0)

	if err := sess.dispatcher.Dispatch(sess, NewFrame(MessageKeepAlive, nil)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if sess.inactivityDeadline.Load() == 0 {
		t.Error("expected KeepAlive to reset the inactivity deadline")
	}
	if fired {
		t.Error("KeepAlive should never fire a user event")
	}
}

func TestDispatchMessageFiresDefaultEvent(t *testing.T) {
	received := make(chan MessageEvent, 1)
	events := EventHandlers{OnMessageReceived: func(s *Session, e MessageEvent) { received <- e }}
	sess := newTestSession(t, events, nil)

	f := NewFrame(MessageText, []byte("hello")).WithMetadata(map[string]string{"room": "lobby"})
	if err := sess.dispatcher.Dispatch(sess, f); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case e := <-received:
		if e.Text != "hello" || e.Metadata["room"] != "lobby" {
			t.Errorf("got %+v", e)
		}
	default:
		t.Fatal("expected OnMessageReceived to fire synchronously")
	}
}

func TestDispatchMessageRoutesToDynamicHandler(t *testing.T) {
	var defaultFired, handlerFired bool
	events := EventHandlers{OnMessageReceived: func(s *Session, e MessageEvent) { defaultFired = true }}
	sess := newTestSession(t, events, nil)
	sess.dispatcher.RegisterHandler("widget", DynamicHandler{
		OnMessage: func(s *Session, e MessageEvent) { handlerFired = true },
	})

	f := NewFrame(MessageText, []byte("hi")).WithExtraInfo(map[string]string{extraInfoCallbackKey: "widget"})
	if err := sess.dispatcher.Dispatch(sess, f); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if !handlerFired {
		t.Error("expected dynamic handler to fire")
	}
	if defaultFired {
		t.Error("default event should not fire when a dynamic handler is registered for the key")
	}
}

func TestDispatchObjectDeserializationSuccess(t *testing.T) {
	received := make(chan ObjectEvent, 1)
	events := EventHandlers{OnObjectReceived: func(s *Session, e ObjectEvent) { received <- e }}
	sess := newTestSession(t, events, stubDeserializer{obj: "decoded"})

	f := NewFrame(MessageObject, []byte("raw")).WithExtraInfo(map[string]string{extraInfoTypeKey: "Widget"})
	if err := sess.dispatcher.Dispatch(sess, f); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	e := <-received
	if e.Object != "decoded" || e.TypeName != "Widget" {
		t.Errorf("got %+v", e)
	}
}

func TestDispatchObjectDeserializationFailureStillFiresEventAndKeepsConnection(t *testing.T) {
	received := make(chan ObjectEvent, 1)
	events := EventHandlers{OnObjectReceived: func(s *Session, e ObjectEvent) { received <- e }}
	sess := newTestSession(t, events, stubDeserializer{err: errors.New("boom")})

	f := NewFrame(MessageObject, []byte("raw")).WithExtraInfo(map[string]string{extraInfoTypeKey: "Widget"})
	if err := sess.dispatcher.Dispatch(sess, f); err != nil {
		t.Fatalf("Dispatch should not return an error for a deserialization failure: %v", err)
	}

	e := <-received
	if e.Object != nil || e.TypeName != "" {
		t.Errorf("got %+v, want a nulled-out event", e)
	}
}

func TestDispatchHandlerPanicIsRecovered(t *testing.T) {
	events := EventHandlers{OnMessageReceived: func(s *Session, e MessageEvent) { panic("boom") }}
	sess := newTestSession(t, events, nil)

	if err := sess.dispatcher.Dispatch(sess, NewFrame(MessageText, []byte("hi"))); err != nil {
		t.Errorf("Dispatch should swallow a handler panic, got error: %v", err)
	}
}
