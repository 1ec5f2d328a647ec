package simplesockets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations and pbkdf2Salt are fixed by the wire protocol: every
// implementation must derive the same key from the same passphrase for
// frames to interoperate.
const pbkdf2Iterations = 10000

// pbkdf2Salt is the library-wide fixed salt. It is not a secret; the
// passphrase is what provides the security margin.
var pbkdf2Salt = []byte("simplesockets-frame-codec-v1")

// deriveKey turns a passphrase into a 32-byte AES-256 key.
func deriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), pbkdf2Salt, pbkdf2Iterations, 32, sha256.New)
}

// encryptAES256CBC encrypts body under the key derived from passphrase,
// PKCS#7-padding it to the cipher's block size, and prepends a random IV
// to the ciphertext.
func encryptAES256CBC(passphrase string, body []byte) ([]byte, error) {
	key := deriveKey(passphrase)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", ErrMalformedFrame, err)
	}

	padded := pkcs7Pad(body, block.BlockSize())

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", ErrMalformedFrame, err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// decryptAES256CBC reverses encryptAES256CBC. Any structural problem
// (too short, bad block alignment, bad padding) is reported as
// ErrMalformedFrame: a decryption failure fails the frame, not the
// session.
func decryptAES256CBC(passphrase string, body []byte) ([]byte, error) {
	key := deriveKey(passphrase)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", ErrMalformedFrame, err)
	}

	blockSize := block.BlockSize()
	if len(body) < blockSize || len(body)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrMalformedFrame)
	}

	iv, ciphertext := body[:blockSize], body[blockSize:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrMalformedFrame)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := pkcs7Unpad(plain, blockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
