package simplesockets

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	algos := []CompressionAlgo{CompressionGzip, CompressionDeflate}
	body := bytes.Repeat([]byte("payload"), 200)

	for _, algo := range algos {
		compressed, err := compressBody(algo, body)
		if err != nil {
			t.Fatalf("algo %v: compress failed: %v", algo, err)
		}
		decompressed, err := decompressBody(algo, compressed)
		if err != nil {
			t.Fatalf("algo %v: decompress failed: %v", algo, err)
		}
		if !bytes.Equal(decompressed, body) {
			t.Errorf("algo %v: round trip mismatch", algo)
		}
	}
}

func TestCompressNoneIsNoOp(t *testing.T) {
	body := []byte("unchanged")
	out, err := compressBody(CompressionNone, body)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Error("CompressionNone should pass body through unchanged")
	}
}

func TestDecompressRejectsCorruptStream(t *testing.T) {
	if _, err := decompressBody(CompressionGzip, []byte{1, 2, 3}); err == nil {
		t.Error("expected decompress to fail on a corrupt gzip stream")
	}
}
