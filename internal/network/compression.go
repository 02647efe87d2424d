// internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pools for decompression readers to reduce allocation overhead on hot paths.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

// emptyReader is used to park pooled readers without holding references to
// the stream they last decoded.
var emptyReader = strings.NewReader("")

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// CompressionMiddleware is an http.RoundTripper that advertises compression
// support on outgoing requests and transparently decompresses response bodies
// based on the Content-Encoding header. It handles gzip, brotli and deflate
// (both zlib-wrapped and raw streams).
type CompressionMiddleware struct {
	// Transport is the underlying round tripper. If nil, http.DefaultTransport
	// is used.
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps the given transport with response
// decompression.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		// The body stream may be partially consumed at this point; the
		// response is unusable.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes the decompression reader and the underlying body, and
// returns pooled readers to their pool exactly once.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil
	}
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	return errors.Join(err1, err2)
}

// DecompressResponse inspects Content-Encoding and wraps resp.Body with the
// matching decompression reader(s). Layered encodings are unwrapped in
// reverse order of application. On success the Content-Encoding and
// Content-Length headers are removed and resp.Uncompressed is set.
//
// On error the body may have been partially read; the caller must close it
// and discard the response.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		var poolCallback func()

		switch encoding {
		case "gzip":
			gzipReader, err := getGzipReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = gzipReader
			poolCallback = func() { putGzipReader(gzipReader) }

		case "deflate":
			deflateReader, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate initialization error: %w", err)
			}
			reader = deflateReader

		case "br":
			brReader, err := getBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli initialization error: %w", err)
			}
			// The brotli reader does not implement io.Closer.
			reader = io.NopCloser(brReader)
			poolCallback = func() { putBrotliReader(brReader) }

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &closeWrapper{
			ReadCloser:   reader,
			originalBody: resp.Body,
			poolCallback: poolCallback,
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Uncompressed = true

	return nil
}

// DecompressBody decodes an already-buffered body according to a
// Content-Encoding header value. The value may list layered encodings
// ("deflate, gzip"); layers are unwrapped in reverse order of application.
// Identity and empty values return the input unchanged.
func DecompressBody(data []byte, encoding string) ([]byte, error) {
	layers := strings.Split(encoding, ",")

	for i := len(layers) - 1; i >= 0; i-- {
		layer := strings.ToLower(strings.TrimSpace(layers[i]))

		switch layer {
		case "gzip":
			zr, err := getGzipReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip initialization error: %w", err)
			}
			decoded, err := io.ReadAll(zr)
			putGzipReader(zr)
			if err != nil {
				return nil, fmt.Errorf("gzip decode error: %w", err)
			}
			data = decoded

		case "br":
			br, err := getBrotliReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("brotli initialization error: %w", err)
			}
			decoded, err := io.ReadAll(br)
			putBrotliReader(br)
			if err != nil {
				return nil, fmt.Errorf("brotli decode error: %w", err)
			}
			data = decoded

		case "deflate":
			reader, err := tryDeflate(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("deflate initialization error: %w", err)
			}
			decoded, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				return nil, fmt.Errorf("deflate decode error: %w", err)
			}
			data = decoded

		case "identity", "":
			continue

		default:
			return nil, fmt.Errorf("unsupported Content-Encoding layer: %s", layer)
		}
	}

	return data, nil
}

// resettableReader buffers the start of a stream so a failed decode attempt
// can be replayed against a different decompressor.
type resettableReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newResettableReader(r io.Reader) *resettableReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &resettableReader{
		r:      io.TeeReader(r, buf),
		buf:    buf,
		source: r,
	}
}

func (rr *resettableReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

// Reset rewinds the reader to the beginning of the stream.
func (rr *resettableReader) Reset() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// tryDeflate attempts to decode as zlib (RFC 1950), falling back to raw
// deflate (RFC 1951). Servers disagree about which one "deflate" means.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	rr := newResettableReader(r)

	zlibReader, err := zlib.NewReader(rr)
	if err == nil {
		return zlibReader, nil
	}

	rr.Reset()
	return flate.NewReader(rr), nil
}
