package simplesockets

// MessageType tags the logical kind of a Frame's payload.
type MessageType uint8

const (
	// MessageText carries a UTF-8 string payload (the common "SendMessage" case).
	MessageText MessageType = 1
	// MessageObject carries a serialized object; ExtraInfo must contain "Type".
	MessageObject MessageType = 2
	// MessageBytes carries an opaque byte payload.
	MessageBytes MessageType = 3
	// MessageAuth is the identification frame a client sends immediately
	// after the transport is Ready for it (post-TLS-handshake).
	MessageAuth MessageType = 4
	// MessageKeepAlive is a zero-payload frame that resets the peer's
	// inactivity timer without producing a user-visible event.
	MessageKeepAlive MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "Message"
	case MessageObject:
		return "Object"
	case MessageBytes:
		return "Bytes"
	case MessageAuth:
		return "Auth"
	case MessageKeepAlive:
		return "KeepAlive"
	default:
		return "Unknown"
	}
}

func (t MessageType) valid() bool {
	switch t {
	case MessageText, MessageObject, MessageBytes, MessageAuth, MessageKeepAlive:
		return true
	default:
		return false
	}
}

// CompressionAlgo names the compression layer applied to a Frame's body.
type CompressionAlgo uint8

const (
	CompressionNone    CompressionAlgo = 0
	CompressionGzip    CompressionAlgo = 1
	CompressionDeflate CompressionAlgo = 2
)

func (c CompressionAlgo) valid() bool {
	return c == CompressionNone || c == CompressionGzip || c == CompressionDeflate
}

// EncryptionAlgo names the encryption layer applied to a Frame's body.
type EncryptionAlgo uint8

const (
	EncryptionNone      EncryptionAlgo = 0
	EncryptionAES256CBC EncryptionAlgo = 1
)

func (e EncryptionAlgo) valid() bool {
	return e == EncryptionNone || e == EncryptionAES256CBC
}

// wireVersion is the only frame version this package understands.
const wireVersion uint8 = 1

// Frame flag bits, byte offset [2] of the header.
const (
	flagHasMetadata  byte = 1 << 0
	flagHasExtraInfo byte = 1 << 1
	flagCompressed   byte = 1 << 2
	flagEncrypted    byte = 1 << 3
)

// headerFixedLen is the length of the fixed prefix, before any of the
// optional length words.
const headerFixedLen = 13

// Frame is the unit of transfer. It is immutable once built; construct one
// with NewFrame and the With* builders.
type Frame struct {
	Type        MessageType
	Payload     []byte
	Metadata    map[string]string
	ExtraInfo   map[string]string
	Compression CompressionAlgo
	Encryption  EncryptionAlgo
}

// NewFrame builds a Frame of the given type and payload with no metadata,
// no extra info, and no compression/encryption. Use the With* helpers (or
// set fields directly before the Frame is handed to a Codec) to add those.
func NewFrame(t MessageType, payload []byte) *Frame {
	return &Frame{Type: t, Payload: payload}
}

// WithMetadata returns f with Metadata set, for fluent construction.
func (f *Frame) WithMetadata(md map[string]string) *Frame {
	f.Metadata = md
	return f
}

// WithExtraInfo returns f with ExtraInfo set, for fluent construction.
func (f *Frame) WithExtraInfo(extra map[string]string) *Frame {
	f.ExtraInfo = extra
	return f
}

// WithCompression returns f with Compression set, for fluent construction.
func (f *Frame) WithCompression(algo CompressionAlgo) *Frame {
	f.Compression = algo
	return f
}

// WithEncryption returns f with Encryption set, for fluent construction.
func (f *Frame) WithEncryption(algo EncryptionAlgo) *Frame {
	f.Encryption = algo
	return f
}

// extraInfoTypeKey is the ExtraInfo entry naming an Object frame's type.
const extraInfoTypeKey = "Type"

// extraInfoCallbackKey is the ExtraInfo entry naming a registered dynamic
// callback that should receive this frame instead of the default event.
const extraInfoCallbackKey = "DynamicCallback"
