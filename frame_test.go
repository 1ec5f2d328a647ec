package simplesockets

import "testing"

func TestMessageTypeValid(t *testing.T) {
	cases := []struct {
		t    MessageType
		want bool
	}{
		{MessageText, true},
		{MessageObject, true},
		{MessageBytes, true},
		{MessageAuth, true},
		{MessageKeepAlive, true},
		{MessageType(0), false},
		{MessageType(6), false},
	}
	for _, c := range cases {
		if got := c.t.valid(); got != c.want {
			t.Errorf("MessageType(%d).valid() = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	if got := MessageText.String(); got != "Message" {
		t.Errorf("MessageText.String() = %q, want Message", got)
	}
	if got := MessageType(99).String(); got != "Unknown" {
		t.Errorf("MessageType(99).String() = %q, want Unknown", got)
	}
}

func TestFrameBuilders(t *testing.T) {
	f := NewFrame(MessageText, []byte("hi")).
		WithMetadata(map[string]string{"k": "v"}).
		WithExtraInfo(map[string]string{"Type": "Foo"}).
		WithCompression(CompressionGzip).
		WithEncryption(EncryptionAES256CBC)

	if f.Type != MessageText {
		t.Errorf("Type = %v, want MessageText", f.Type)
	}
	if string(f.Payload) != "hi" {
		t.Errorf("Payload = %q, want hi", f.Payload)
	}
	if f.Metadata["k"] != "v" {
		t.Error("Metadata not set")
	}
	if f.ExtraInfo["Type"] != "Foo" {
		t.Error("ExtraInfo not set")
	}
	if f.Compression != CompressionGzip {
		t.Error("Compression not set")
	}
	if f.Encryption != EncryptionAES256CBC {
		t.Error("Encryption not set")
	}
}

func TestCompressionAndEncryptionValid(t *testing.T) {
	if !CompressionNone.valid() || !CompressionGzip.valid() || !CompressionDeflate.valid() {
		t.Error("expected all known compression algos to be valid")
	}
	if CompressionAlgo(9).valid() {
		t.Error("expected unknown compression algo to be invalid")
	}
	if !EncryptionNone.valid() || !EncryptionAES256CBC.valid() {
		t.Error("expected all known encryption algos to be valid")
	}
	if EncryptionAlgo(9).valid() {
		t.Error("expected unknown encryption algo to be invalid")
	}
}
