package simplesockets

import (
	"errors"
	"fmt"
)

// Error kinds returned by the package. Each is a sentinel suitable for
// errors.Is; call sites wrap it with additional context via fmt.Errorf's
// %w verb.
var (
	// ErrConfigError is returned synchronously from NewServer, NewClient,
	// Listen and SetBufferSize when the supplied options are invalid (bad
	// buffer size, bad timeout, bad IP).
	ErrConfigError = errors.New("simplesockets: invalid configuration")

	// ErrPolicyDenied is the reason a peer was refused by the whitelist or
	// blacklist, or refused because the server is at MaxConnections.
	ErrPolicyDenied = errors.New("simplesockets: connection denied by policy")

	// ErrTlsError covers handshake failure or certificate rejection.
	ErrTlsError = errors.New("simplesockets: tls error")

	// ErrIdentificationTimeout is returned when no Auth frame arrives within
	// the configured identification timeout.
	ErrIdentificationTimeout = errors.New("simplesockets: identification timeout")

	// ErrMalformedFrame covers header/body inconsistencies, unknown algorithm
	// tags, and decrypt/decompress failures.
	ErrMalformedFrame = errors.New("simplesockets: malformed frame")

	// ErrUnsupportedVersion is returned when the frame's version byte is not
	// one this package understands.
	ErrUnsupportedVersion = errors.New("simplesockets: unsupported frame version")

	// ErrMalformedAuth is returned when an Auth frame's payload does not
	// split into exactly four '|'-separated fields.
	ErrMalformedAuth = errors.New("simplesockets: malformed auth frame")

	// ErrUnexpectedEOF is returned when the peer closes the connection in
	// the middle of a frame.
	ErrUnexpectedEOF = errors.New("simplesockets: unexpected eof mid-frame")

	// ErrIoError covers socket-level failures outside the above categories.
	ErrIoError = errors.New("simplesockets: io error")

	// ErrBackpressure is returned when a send is attempted against a send
	// queue that is already at its configured MaxQueueDepth.
	ErrBackpressure = errors.New("simplesockets: send queue backpressure")

	// ErrNotConnected is returned when a send is attempted on a Session
	// whose state does not admit it: any frame is accepted while Ready or
	// HandshakingTls, an Auth frame also while Created or Identifying.
	ErrNotConnected = errors.New("simplesockets: not connected")

	// ErrDeserialization is logged, not returned, when an Object frame's
	// payload cannot be deserialized; kept as a sentinel so the log line is
	// consistent and testable.
	ErrDeserialization = errors.New("simplesockets: object deserialization failed")

	// ErrClosed is returned by operations attempted after Close/Shutdown.
	ErrClosed = errors.New("simplesockets: closed")
)

// wrapConfigError formats a message and wraps it with ErrConfigError.
func wrapConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigError, fmt.Sprintf(format, args...))
}
