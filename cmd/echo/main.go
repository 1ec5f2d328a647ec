// Command echo is a minimal demonstration harness: it starts a Listener
// that echoes every text message back to its sender, then a Connector
// that identifies itself, sends a few lines, and prints what comes back.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chengxulvtu/simplesockets"
)

func main() {
	srv, err := simplesockets.NewServer(simplesockets.ServerOptions{
		Events: simplesockets.EventHandlers{
			OnClientConnected: func(s *simplesockets.Session) {
				slog.Info("client connected", "id", s.ID, "addr", s.RemoteIPv4())
			},
			OnClientDisconnected: func(s *simplesockets.Session, reason simplesockets.DisconnectReason) {
				slog.Info("client disconnected", "id", s.ID, "reason", reason)
			},
			OnMessageReceived: func(s *simplesockets.Session, e simplesockets.MessageEvent) {
				if err := s.SendMessage(e.Text); err != nil {
					slog.Error("echo failed", "id", s.ID, "error", err)
				}
			},
		},
	})
	if err != nil {
		slog.Error("failed to configure server", "error", err)
		return
	}

	// A dynamic callback: messages tagged with the "shout" callback key get
	// upper-cased instead of echoed verbatim, demonstrating per-key routing
	// alongside the default handler above.
	srv.RegisterDynamicCallback("shout", simplesockets.DynamicHandler{
		OnMessage: func(s *simplesockets.Session, e simplesockets.MessageEvent) {
			loud := make([]byte, len(e.Text))
			for i := 0; i < len(e.Text); i++ {
				c := e.Text[i]
				if c >= 'a' && c <= 'z' {
					c -= 'a' - 'A'
				}
				loud[i] = c
			}
			_ = s.SendMessage(string(loud))
		},
	})

	if err := srv.Listen("127.0.0.1", 12345, 0); err != nil {
		slog.Error("listen failed", "error", err)
		return
	}
	slog.Info("server listening", "addr", srv.Addr())

	client, err := simplesockets.NewClient(simplesockets.ClientOptions{
		Name:       "echo-demo",
		GUID:       uuid.NewString(),
		UserDomain: "WORKGROUP",
		OSVersion:  "linux",
		Events: simplesockets.EventHandlers{
			OnMessageReceived: func(s *simplesockets.Session, e simplesockets.MessageEvent) {
				slog.Info("client received", "text", e.Text)
			},
		},
	})
	if err != nil {
		slog.Error("failed to configure client", "error", err)
		return
	}

	if err := client.Connect("127.0.0.1", 12345, 0); err != nil {
		slog.Error("connect failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	go func() {
		time.Sleep(500 * time.Millisecond)
		_ = client.SendMessage("hello from the echo client")
		_ = client.SendMessage("quiet", simplesockets.WithCallbackKey("shout"))
	}()

	<-ctx.Done()

	_ = client.Close()
	_ = srv.Close()
}
