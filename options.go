package simplesockets

// SendOptions collects the options accepted by the send operations,
// collapsing what would otherwise be an overload set into a single
// options struct.
type SendOptions struct {
	metadata    map[string]string
	extraInfo   map[string]string
	callbackKey string
	encryption  EncryptionAlgo
	compression CompressionAlgo
}

// SendOption configures a SendOptions value.
type SendOption func(*SendOptions)

// WithMetadata attaches a string->string map surfaced verbatim to the
// peer's handler.
func WithMetadata(md map[string]string) SendOption {
	return func(o *SendOptions) {
		o.metadata = md
	}
}

// WithCallbackKey routes the inbound event on the peer to the dynamic
// handler registered under key, instead of the default event.
func WithCallbackKey(key string) SendOption {
	return func(o *SendOptions) {
		o.callbackKey = key
	}
}

// WithEncryption selects the frame's encryption algorithm.
func WithEncryption(algo EncryptionAlgo) SendOption {
	return func(o *SendOptions) {
		o.encryption = algo
	}
}

// WithCompression selects the frame's compression algorithm.
func WithCompression(algo CompressionAlgo) SendOption {
	return func(o *SendOptions) {
		o.compression = algo
	}
}

// withTypeName is used internally by SendObject to record the serialized
// type descriptor in the frame's extra-info, alongside any caller-supplied
// extra info.
func withTypeName(name string) SendOption {
	return func(o *SendOptions) {
		if o.extraInfo == nil {
			o.extraInfo = make(map[string]string)
		}
		o.extraInfo[extraInfoTypeKey] = name
	}
}

func buildSendOptions(opts ...SendOption) SendOptions {
	var o SendOptions
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// buildFrame turns o plus a message type and payload into the Frame that
// will be handed to the Codec. The DynamicCallback key, if any, is merged
// into ExtraInfo.
func (o SendOptions) buildFrame(t MessageType, payload []byte) *Frame {
	extra := o.extraInfo
	if o.callbackKey != "" {
		if extra == nil {
			extra = make(map[string]string)
		} else {
			merged := make(map[string]string, len(extra)+1)
			for k, v := range extra {
				merged[k] = v
			}
			extra = merged
		}
		extra[extraInfoCallbackKey] = o.callbackKey
	}

	return &Frame{
		Type:        t,
		Payload:     payload,
		Metadata:    o.metadata,
		ExtraInfo:   extra,
		Compression: o.compression,
		Encryption:  o.encryption,
	}
}
