package static

import (
	"bufio"
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
	"golang.org/x/time/rate"
)

// Reader pools keep per-response decompressor allocations off the hot path.
var (
	gzipPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliPool = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
)

var emptySource = strings.NewReader("")

// transport is the session's outbound RoundTripper: it paces requests with a
// token bucket and transparently decodes gzip, deflate and brotli response
// bodies so the DOM parser always sees plain HTML.
type transport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newTransport(base http.RoundTripper, requestsPerSecond float64) *transport {
	if base == nil {
		base = http.DefaultTransport
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &transport{
		base:    base,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return resp, nil
}

func (t *transport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// decodeBody unwraps Content-Encoding layers in reverse application order and
// leaves resp.Body readable as the identity encoding. On error the body may
// be partially consumed and must be discarded by the caller.
func decodeBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var encodings []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, e := range strings.Split(v, ",") {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				encodings = append(encodings, e)
			}
		}
	}
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := encodings[i]

		var (
			reader  io.ReadCloser
			release func()
		)
		switch encoding {
		case "gzip":
			zr := gzipPool.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipPool.Put(zr)
				return fmt.Errorf("gzip: %w", err)
			}
			reader = zr
			release = func() {
				_ = zr.Reset(emptySource)
				gzipPool.Put(zr)
			}
		case "br":
			br := brotliPool.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brotliPool.Put(br)
				return fmt.Errorf("brotli: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() {
				_ = br.Reset(emptySource)
				brotliPool.Put(br)
			}
		case "deflate":
			r, err := deflateReader(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate: %w", err)
			}
			reader = r
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported content encoding %q", encoding)
		}

		resp.Body = &decodedBody{ReadCloser: reader, wrapped: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// deflateReader handles both zlib-wrapped (RFC 1950) and raw (RFC 1951)
// deflate streams, which servers emit interchangeably. The two leading bytes
// distinguish them without consuming the stream.
func deflateReader(body io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	header, err := br.Peek(2)
	if err == nil && isZlibHeader(header) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 || b[0]&0x0f != 8 {
		return false
	}
	return (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// decodedBody closes the decompressor, returns pooled readers and closes the
// wire-level body underneath it.
type decodedBody struct {
	io.ReadCloser
	wrapped io.ReadCloser
	release func()
}

func (d *decodedBody) Close() error {
	err := d.ReadCloser.Close()
	if d.release != nil {
		d.release()
		d.release = nil
	}
	return errors.Join(err, d.wrapped.Close())
}
