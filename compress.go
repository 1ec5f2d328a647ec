package simplesockets

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
)

// compressBody applies algo to body. CompressionNone is a no-op.
func compressBody(algo CompressionAlgo, body []byte) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return body, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("%w: gzip write: %v", ErrMalformedFrame, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%w: gzip close: %v", ErrMalformedFrame, err)
		}
		return buf.Bytes(), nil
	case CompressionDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate writer: %v", ErrMalformedFrame, err)
		}
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("%w: deflate write: %v", ErrMalformedFrame, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%w: deflate close: %v", ErrMalformedFrame, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression algo %d", ErrMalformedFrame, algo)
	}
}

// decompressBody reverses compressBody.
func decompressBody(algo CompressionAlgo, body []byte) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return body, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip open: %v", ErrMalformedFrame, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip read: %v", ErrMalformedFrame, err)
		}
		return out, nil
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate read: %v", ErrMalformedFrame, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression algo %d", ErrMalformedFrame, algo)
	}
}
