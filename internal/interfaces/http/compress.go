package http

import (
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/zstd"
)

// compressionMiddleware encodes responses with zstd when the client accepts
// it and falls back to gzip otherwise.
func (s *Server) compressionMiddleware(next http.Handler) http.Handler {
	gzipped := gzhttp.GzipHandler(next)
	pool := &sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedDefault),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				return nil
			}
			return enc
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsEncoding(r.Header.Get("Accept-Encoding"), "zstd") {
			gzipped.ServeHTTP(w, r)
			return
		}
		zw := &zstdWriter{ResponseWriter: w, pool: pool, status: http.StatusOK}
		defer zw.close()
		next.ServeHTTP(zw, r)
	})
}

func acceptsEncoding(header, coding string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), coding) {
			continue
		}
		q := strings.ReplaceAll(params, " ", "")
		return q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}
	return false
}

// zstdWriter defers the status line until the first body write so bodiless
// responses go out without a Content-Encoding.
type zstdWriter struct {
	http.ResponseWriter
	pool    *sync.Pool
	enc     *zstd.Encoder
	status  int
	pending bool
	sent    bool
}

func (z *zstdWriter) WriteHeader(code int) {
	if z.sent || z.pending {
		return
	}
	z.status = code
	z.pending = true
}

func (z *zstdWriter) Write(b []byte) (int, error) {
	if !z.sent {
		if len(b) == 0 {
			return 0, nil
		}
		enc, _ := z.pool.Get().(*zstd.Encoder)
		if enc == nil {
			z.flushHeader()
			return z.ResponseWriter.Write(b)
		}
		h := z.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "zstd")
		h.Add("Vary", "Accept-Encoding")
		enc.Reset(z.ResponseWriter)
		z.enc = enc
		z.flushHeader()
	}
	if z.enc == nil {
		return z.ResponseWriter.Write(b)
	}
	return z.enc.Write(b)
}

func (z *zstdWriter) flushHeader() {
	z.sent = true
	z.ResponseWriter.WriteHeader(z.status)
}

func (z *zstdWriter) close() {
	if !z.sent {
		if z.pending {
			z.flushHeader()
		}
		return
	}
	if z.enc != nil {
		_ = z.enc.Close()
		z.pool.Put(z.enc)
		z.enc = nil
	}
}

func (z *zstdWriter) Unwrap() http.ResponseWriter { return z.ResponseWriter }
