package simplesockets

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Codec encodes Frames to wire bytes and decodes them back. A Codec is
// configured with the passphrase used for EncryptionAES256CBC frames (the
// same passphrase must be configured on both peers) and a Logger for the
// "encryption requested but unconfigured" warning: such a frame is sent
// unencrypted.
type Codec struct {
	Passphrase string
	Logger     Logger
}

// NewCodec returns a Codec using the default logger.
func NewCodec(passphrase string) *Codec {
	return &Codec{Passphrase: passphrase, Logger: defaultLogger()}
}

// header is the parsed fixed-plus-optional prefix of a wire frame. wireBodyLen
// is carried in the header's otherwise-reserved [5..9) word: it is 0 for a
// frame with neither compression nor encryption applied (in which case the
// transmitted body length is simply payloadLen+metadataLen+extraLen), and
// holds the actual transmitted byte count of the single compressed/encrypted
// blob otherwise. See DESIGN.md for why the header needs this in addition to
// the three logical segment lengths.
type header struct {
	Version     uint8
	Type        MessageType
	Flags       uint8
	Compression CompressionAlgo
	Encryption  EncryptionAlgo
	WireBodyLen uint32
	PayloadLen  uint32
	MetadataLen uint32
	ExtraLen    uint32
}

func (h header) hasMetadata() bool  { return h.Flags&flagHasMetadata != 0 }
func (h header) hasExtraInfo() bool { return h.Flags&flagHasExtraInfo != 0 }
func (h header) compressed() bool   { return h.Flags&flagCompressed != 0 }
func (h header) encrypted() bool    { return h.Flags&flagEncrypted != 0 }

// lengthWordsLen returns how many additional bytes, beyond headerFixedLen,
// this header's flags require (0, 4, or 8).
func (h header) lengthWordsLen() int {
	n := 0
	if h.hasMetadata() {
		n += 4
	}
	if h.hasExtraInfo() {
		n += 4
	}
	return n
}

// bodyWireLen is the number of bytes the Receiver must accumulate on the
// wire before the body is complete, for a header whose length words have
// already been parsed.
func (h header) bodyWireLen() uint32 {
	if h.compressed() || h.encrypted() {
		return h.WireBodyLen
	}
	total := h.PayloadLen
	if h.hasMetadata() {
		total += h.MetadataLen
	}
	if h.hasExtraInfo() {
		total += h.ExtraLen
	}
	return total
}

// parseFixedHeader parses the first headerFixedLen bytes of a frame.
func parseFixedHeader(buf []byte) (header, error) {
	if len(buf) < headerFixedLen {
		return header{}, fmt.Errorf("%w: short header", ErrMalformedFrame)
	}

	h := header{
		Version:     buf[0],
		Type:        MessageType(buf[1]),
		Flags:       buf[2],
		Compression: CompressionAlgo(buf[3]),
		Encryption:  EncryptionAlgo(buf[4]),
		WireBodyLen: binary.BigEndian.Uint32(buf[5:9]),
		PayloadLen:  binary.BigEndian.Uint32(buf[9:13]),
	}

	if h.Version != wireVersion {
		return h, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, h.Version)
	}
	if !h.Type.valid() {
		return h, fmt.Errorf("%w: message type %d", ErrMalformedFrame, h.Type)
	}
	if !h.Compression.valid() {
		return h, fmt.Errorf("%w: compression algo %d", ErrMalformedFrame, h.Compression)
	}
	if !h.Encryption.valid() {
		return h, fmt.Errorf("%w: encryption algo %d", ErrMalformedFrame, h.Encryption)
	}

	return h, nil
}

// parseLengthWords parses the optional metadata_len/extra_len words that
// follow the fixed header, given the flags already captured in h.
func parseLengthWords(h header, buf []byte) (header, error) {
	need := h.lengthWordsLen()
	if len(buf) < need {
		return h, fmt.Errorf("%w: short length words", ErrMalformedFrame)
	}
	off := 0
	if h.hasMetadata() {
		h.MetadataLen = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if h.hasExtraInfo() {
		h.ExtraLen = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return h, nil
}

// encodeHeader serializes h back into its wire form.
func encodeHeader(h header) []byte {
	buf := make([]byte, headerFixedLen+h.lengthWordsLen())
	buf[0] = h.Version
	buf[1] = byte(h.Type)
	buf[2] = h.Flags
	buf[3] = byte(h.Compression)
	buf[4] = byte(h.Encryption)
	binary.BigEndian.PutUint32(buf[5:9], h.WireBodyLen)
	binary.BigEndian.PutUint32(buf[9:13], h.PayloadLen)

	off := headerFixedLen
	if h.hasMetadata() {
		binary.BigEndian.PutUint32(buf[off:off+4], h.MetadataLen)
		off += 4
	}
	if h.hasExtraInfo() {
		binary.BigEndian.PutUint32(buf[off:off+4], h.ExtraLen)
		off += 4
	}
	return buf
}

// Encode serializes f into wire bytes: header followed by body.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	metadataBytes := encodeKV(f.Metadata)
	extraBytes := encodeKV(f.ExtraInfo)

	h := header{
		Version:     wireVersion,
		Type:        f.Type,
		Compression: f.Compression,
		Encryption:  f.Encryption,
		PayloadLen:  uint32(len(f.Payload)),
	}
	if len(f.Metadata) > 0 {
		h.Flags |= flagHasMetadata
		h.MetadataLen = uint32(len(metadataBytes))
	}
	if len(f.ExtraInfo) > 0 {
		h.Flags |= flagHasExtraInfo
		h.ExtraLen = uint32(len(extraBytes))
	}

	body := make([]byte, 0, len(f.Payload)+len(metadataBytes)+len(extraBytes))
	body = append(body, f.Payload...)
	body = append(body, metadataBytes...)
	body = append(body, extraBytes...)

	if h.Compression != CompressionNone {
		compressed, err := compressBody(h.Compression, body)
		if err != nil {
			return nil, err
		}
		body = compressed
		h.Flags |= flagCompressed
	}

	if h.Encryption != EncryptionNone {
		if c.Passphrase == "" {
			c.logger().Warn("encryption requested but no passphrase configured; sending unencrypted",
				"algo", h.Encryption)
			h.Encryption = EncryptionNone
		} else {
			encrypted, err := encryptAES256CBC(c.Passphrase, body)
			if err != nil {
				return nil, err
			}
			body = encrypted
			h.Flags |= flagEncrypted
		}
	}

	if h.compressed() || h.encrypted() {
		h.WireBodyLen = uint32(len(body))
	}

	out := encodeHeader(h)
	out = append(out, body...)
	return out, nil
}

// Decode parses a complete wire frame (header + full body, as assembled by
// the Receiver) back into a Frame.
func (c *Codec) Decode(raw []byte) (*Frame, error) {
	h, err := parseFixedHeader(raw)
	if err != nil {
		return nil, err
	}
	rest := raw[headerFixedLen:]
	h, err = parseLengthWords(h, rest)
	if err != nil {
		return nil, err
	}
	rest = rest[h.lengthWordsLen():]

	if uint32(len(rest)) < h.bodyWireLen() {
		return nil, fmt.Errorf("%w: body shorter than declared", ErrMalformedFrame)
	}
	body := rest[:h.bodyWireLen()]

	if h.encrypted() {
		if c.Passphrase == "" {
			return nil, fmt.Errorf("%w: encrypted frame but no passphrase configured", ErrMalformedFrame)
		}
		decrypted, err := decryptAES256CBC(c.Passphrase, body)
		if err != nil {
			return nil, err
		}
		body = decrypted
	}

	if h.compressed() {
		decompressed, err := decompressBody(h.Compression, body)
		if err != nil {
			return nil, err
		}
		body = decompressed
	}

	wantLen := int(h.PayloadLen) + int(h.MetadataLen) + int(h.ExtraLen)
	if len(body) != wantLen {
		return nil, fmt.Errorf("%w: reassembled body length %d != expected %d", ErrMalformedFrame, len(body), wantLen)
	}

	f := &Frame{
		Type:        h.Type,
		Compression: h.Compression,
		Encryption:  h.Encryption,
	}

	off := 0
	f.Payload = append([]byte(nil), body[off:off+int(h.PayloadLen)]...)
	off += int(h.PayloadLen)

	if h.hasMetadata() {
		md, err := decodeKV(body[off : off+int(h.MetadataLen)])
		if err != nil {
			return nil, err
		}
		f.Metadata = md
		off += int(h.MetadataLen)
	}

	if h.hasExtraInfo() {
		extra, err := decodeKV(body[off : off+int(h.ExtraLen)])
		if err != nil {
			return nil, err
		}
		f.ExtraInfo = extra
	}

	return f, nil
}

func (c *Codec) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger()
}

// encodeKV serializes a string->string map into a canonical length-
// prefixed key/value form. Go maps have no insertion order to preserve,
// so keys are written in sorted order: this is still canonical
// (deterministic for a given map) even though it is not literally
// "insertion order" for inputs built via map literals.
func encodeKV(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, 64)
	for _, k := range keys {
		v := m[k]
		out = appendLenPrefixed(out, k)
		out = appendLenPrefixed(out, v)
	}
	return out
}

func appendLenPrefixed(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

func decodeKV(data []byte) (map[string]string, error) {
	m := make(map[string]string)
	off := 0
	for off < len(data) {
		key, n, err := readLenPrefixed(data[off:])
		if err != nil {
			return nil, err
		}
		off += n

		val, n, err := readLenPrefixed(data[off:])
		if err != nil {
			return nil, err
		}
		off += n

		m[key] = val
	}
	return m, nil
}

func readLenPrefixed(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, fmt.Errorf("%w: truncated kv length", ErrMalformedFrame)
	}
	l := binary.BigEndian.Uint32(data[:4])
	if uint32(len(data)-4) < l {
		return "", 0, fmt.Errorf("%w: truncated kv value", ErrMalformedFrame)
	}
	return string(data[4 : 4+l]), int(4 + l), nil
}
