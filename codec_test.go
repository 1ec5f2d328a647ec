package simplesockets

import (
	"bytes"
	"reflect"
	"testing"
)

func TestCodecRoundTripPlain(t *testing.T) {
	c := NewCodec("")
	f := NewFrame(MessageText, []byte("hello")).WithMetadata(map[string]string{"room": "lobby"})

	raw, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Type != f.Type || string(got.Payload) != string(f.Payload) {
		t.Errorf("got %+v, want %+v", got, f)
	}
	if !reflect.DeepEqual(got.Metadata, f.Metadata) {
		t.Errorf("Metadata = %v, want %v", got.Metadata, f.Metadata)
	}
}

func TestCodecRoundTripCompressedAndEncrypted(t *testing.T) {
	c := NewCodec("s3cret")
	f := NewFrame(MessageBytes, bytes.Repeat([]byte("x"), 1024)).
		WithCompression(CompressionGzip).
		WithEncryption(EncryptionAES256CBC).
		WithExtraInfo(map[string]string{"Type": "Blob"})

	raw, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Error("payload mismatch after compress+encrypt round trip")
	}
	if got.ExtraInfo["Type"] != "Blob" {
		t.Error("ExtraInfo mismatch after compress+encrypt round trip")
	}
}

func TestCodecEncryptionWithoutPassphraseFallsBackToUnencrypted(t *testing.T) {
	c := NewCodec("")
	f := NewFrame(MessageText, []byte("hi")).WithEncryption(EncryptionAES256CBC)

	raw, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(got.Payload) != "hi" {
		t.Errorf("Payload = %q, want hi", got.Payload)
	}
}

func TestCodecDecodeTamperedLengthFails(t *testing.T) {
	c := NewCodec("")
	f := NewFrame(MessageText, []byte("hello"))
	raw, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Truncate the body so the declared length no longer matches.
	truncated := raw[:len(raw)-2]
	if _, err := c.Decode(truncated); err == nil {
		t.Error("expected Decode to fail on truncated body")
	}
}

func TestCodecDecodeUnsupportedVersion(t *testing.T) {
	c := NewCodec("")
	f := NewFrame(MessageText, []byte("hello"))
	raw, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	raw[0] = 0xFF
	if _, err := c.Decode(raw); err == nil {
		t.Error("expected Decode to reject an unsupported version byte")
	}
}

func TestEncodeDecodeKVIsOrderIndependent(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	encoded := encodeKV(m)
	decoded, err := decodeKV(encoded)
	if err != nil {
		t.Fatalf("decodeKV failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Errorf("decoded = %v, want %v", decoded, m)
	}
}

func TestEncodeKVEmptyMapIsNil(t *testing.T) {
	if got := encodeKV(nil); got != nil {
		t.Errorf("encodeKV(nil) = %v, want nil", got)
	}
	if got := encodeKV(map[string]string{}); got != nil {
		t.Errorf("encodeKV({}) = %v, want nil", got)
	}
}
