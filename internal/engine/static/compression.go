// File: internal/engine/static/compression.go
package static

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

// Reader pools keep decompressor allocations off the per-request path.
var (
	gzipPool = sync.Pool{
		New: func() interface{} {
			// Allocated empty; Reset attaches a source before first use.
			return new(gzip.Reader)
		},
	}

	brotliPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

// emptyReader is what pooled readers are parked on between uses, so they do
// not pin the previous response stream.
var emptyReader = strings.NewReader("")

func acquireGzip(r io.Reader) (*gzip.Reader, error) {
	zr := gzipPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		// The struct stays reusable even when Reset rejects the header.
		gzipPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func releaseGzip(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	// FIX: park on an empty reader, not nil. gzip.Reset(nil) reads a header
	// unconditionally and panicked on older Go; the empty reader just yields
	// io.EOF, which is safe to ignore here.
	_ = zr.Reset(emptyReader)
	gzipPool.Put(zr)
}

func acquireBrotli(r io.Reader) (*brotli.Reader, error) {
	br := brotliPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliPool.Put(br)
		return nil, err
	}
	return br, nil
}

func releaseBrotli(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyReader)
	brotliPool.Put(br)
}

// decompressTransport negotiates compression on outgoing requests and
// transparently decodes the response body. It handles gzip, brotli, and both
// zlib-wrapped and raw deflate, including layered encodings.
type decompressTransport struct {
	base http.RoundTripper
}

func newDecompressTransport(base http.RoundTripper) *decompressTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressTransport{base: base}
}

func (t *decompressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// Brotli first; servers that support it compress better with it.
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decompressResponse(resp); err != nil {
		// The stream may be partially consumed at this point; the response is
		// unusable either way.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return resp, nil
}

// layeredBody closes the decoder, returns any pooled reader, and closes the
// wire-level body underneath it.
type layeredBody struct {
	io.ReadCloser
	inner   io.ReadCloser
	release func()
}

func (b *layeredBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	err1 := b.ReadCloser.Close()
	err2 := b.inner.Close()
	return errors.Join(err1, err2)
}

// decompressResponse wraps resp.Body with decoders for each Content-Encoding
// layer, applied in reverse of the order the server listed them. On success
// the encoding and length headers are cleared and Uncompressed is set. On
// error the body may be partially read and the caller must discard the
// response.
func decompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var (
			reader  io.ReadCloser
			release func()
		)
		switch encoding {
		case "gzip":
			zr, err := acquireGzip(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip layer: %w", err)
			}
			reader = zr
			release = func() { releaseGzip(zr) }

		case "deflate":
			dr, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate layer: %w", err)
			}
			reader = dr

		case "br":
			br, err := acquireBrotli(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli layer: %w", err)
			}
			// brotli.Reader has no Close.
			reader = io.NopCloser(br)
			release = func() { releaseBrotli(br) }

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer %q", encoding)
		}

		resp.Body = &layeredBody{
			ReadCloser: reader,
			inner:      resp.Body,
			release:    release,
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// replayReader buffers what has been read so a failed decode attempt can be
// retried from the start of the stream.
type replayReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	// 128 bytes covers any header a decoder probes.
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &replayReader{
		r:      io.TeeReader(r, buf),
		buf:    buf,
		source: r,
	}
}

func (rr *replayReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

func (rr *replayReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// tryDeflate decodes "deflate" bodies, which in the wild are either zlib
// streams (RFC 1950) or raw deflate (RFC 1951). Zlib is attempted first and
// the stream replayed for the raw fallback.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	rr := newReplayReader(r)

	zr, err := zlib.NewReader(rr)
	if err == nil {
		return zr, nil
	}

	rr.rewind()
	return flate.NewReader(rr), nil
}
