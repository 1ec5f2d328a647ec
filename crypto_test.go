package simplesockets

import "testing"

func TestEncryptDecryptAES256CBCRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, err := encryptAES256CBC("passphrase", plain)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	got, err := decryptAES256CBC("passphrase", ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(got) != string(plain) {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	plain := []byte("secret payload")
	ciphertext, err := encryptAES256CBC("correct", plain)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	got, err := decryptAES256CBC("incorrect", ciphertext)
	if err == nil && string(got) == string(plain) {
		t.Error("expected wrong passphrase to fail or produce different plaintext")
	}
}

func TestDecryptShortCiphertextFails(t *testing.T) {
	if _, err := decryptAES256CBC("passphrase", []byte{1, 2, 3}); err == nil {
		t.Error("expected error decrypting a too-short ciphertext")
	}
}

func TestPKCS7PadUnpadRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("padded length %d not block-aligned for n=%d", len(padded), n)
		}
		unpadded, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("unpad failed for n=%d: %v", n, err)
		}
		if len(unpadded) != n {
			t.Errorf("n=%d: unpadded length = %d, want %d", n, len(unpadded), n)
		}
	}
}

func TestPKCS7UnpadRejectsBadPadding(t *testing.T) {
	bad := []byte{1, 2, 3, 4, 5, 6, 7, 0}
	if _, err := pkcs7Unpad(bad, 8); err == nil {
		t.Error("expected unpad to reject a zero padding length")
	}
}
