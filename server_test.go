package simplesockets

import (
	"net"
	"sync"
	"testing"
	"time"
)

func startTestServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen("127.0.0.1", 0, 0); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dialTestClient(t *testing.T, srv *Server) *net.TCPConn {
	t.Helper()
	conn, err := net.DialTCP("tcp", nil, srv.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServer_ListenAndAddr(t *testing.T) {
	srv := startTestServer(t, ServerOptions{})
	if srv.Addr() == nil {
		t.Error("Addr returned nil")
	}
	if !srv.CanAcceptConnections() {
		t.Error("expected CanAcceptConnections true right after Listen")
	}
}

func TestServer_ClientConnectedFires(t *testing.T) {
	connected := make(chan *Session, 1)
	srv := startTestServer(t, ServerOptions{
		Events: EventHandlers{
			OnClientConnected: func(s *Session) { connected <- s },
		},
	})

	conn := dialTestClient(t, srv)

	select {
	case sess := <-connected:
		if sess.State() != StateIdentifying {
			t.Errorf("expected new session in Identifying, got %v", sess.State())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ClientConnected")
	}

	_ = conn.Close()
}

func TestServer_AdmissionWhitelistRejectsUnlisted(t *testing.T) {
	connected := make(chan *Session, 1)
	srv := startTestServer(t, ServerOptions{
		Policy: Policy{Whitelist: []string{"10.0.0.1"}},
		Events: EventHandlers{
			OnClientConnected: func(s *Session) { connected <- s },
		},
	})

	conn := dialTestClient(t, srv)

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected refused connection to be closed by server")
	}

	select {
	case <-connected:
		t.Error("ClientConnected fired for a peer not in the whitelist")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServer_MaxConnectionsGatesAdmission(t *testing.T) {
	var mu sync.Mutex
	var connectedCount int
	srv := startTestServer(t, ServerOptions{
		Policy: Policy{MaxConnections: 1},
		Events: EventHandlers{
			OnClientConnected: func(s *Session) {
				mu.Lock()
				connectedCount++
				mu.Unlock()
			},
		},
	})

	conn1 := dialTestClient(t, srv)
	time.Sleep(100 * time.Millisecond)

	if srv.CanAcceptConnections() {
		t.Error("expected CanAcceptConnections false at capacity")
	}

	conn2 := dialTestClient(t, srv)
	buf := make([]byte, 1)
	_ = conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn2.Read(buf); err == nil {
		t.Error("expected second connection to be refused at capacity")
	}

	mu.Lock()
	got := connectedCount
	mu.Unlock()
	if got != 1 {
		t.Errorf("connectedCount = %d, want 1", got)
	}

	_ = conn1.Close()
}

func TestServer_ShutdownClientDisconnects(t *testing.T) {
	connected := make(chan *Session, 1)
	disconnected := make(chan DisconnectReason, 1)
	srv := startTestServer(t, ServerOptions{
		Events: EventHandlers{
			OnClientConnected:    func(s *Session) { connected <- s },
			OnClientDisconnected: func(s *Session, r DisconnectReason) { disconnected <- r },
		},
	})

	conn := dialTestClient(t, srv)
	var sess *Session
	select {
	case sess = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ClientConnected")
	}

	srv.ShutdownClient(sess.ID, ReasonPolicyDenied)

	select {
	case reason := <-disconnected:
		if reason != ReasonPolicyDenied {
			t.Errorf("reason = %v, want ReasonPolicyDenied", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ClientDisconnected")
	}

	if srv.IsClientConnected(sess.ID) {
		t.Error("expected session to be removed from the server's map")
	}

	_ = conn.Close()
}

func TestServer_CloseStopsAcceptingAndDisconnectsAll(t *testing.T) {
	disconnected := make(chan DisconnectReason, 1)
	srv, err := NewServer(ServerOptions{
		Events: EventHandlers{
			OnClientDisconnected: func(s *Session, r DisconnectReason) { disconnected <- r },
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen("127.0.0.1", 0, 0); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	conn := dialTestClient(t, srv)
	time.Sleep(50 * time.Millisecond)

	if err := srv.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case reason := <-disconnected:
		if reason != ReasonNormal {
			t.Errorf("reason = %v, want ReasonNormal", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ClientDisconnected during Close")
	}

	_ = conn.Close()

	if _, err := net.DialTCP("tcp", nil, srv.Addr().(*net.TCPAddr)); err == nil {
		t.Error("expected dial to a closed listener to fail")
	}
}
