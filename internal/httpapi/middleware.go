package httpapi

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

const (
	requestIDHeader = "X-Request-ID"
	requestIDLen    = 8
	requestIDChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func newRequestID() string {
	var rnd [requestIDLen]byte
	_, _ = rand.Read(rnd[:])
	id := make([]byte, requestIDLen)
	for i, v := range rnd {
		id[i] = requestIDChars[int(v)%len(requestIDChars)]
	}
	return string(id)
}

// validRequestID accepts only ids this server could have generated, so a
// caller cannot inject arbitrary text into the logs.
func validRequestID(id string) bool {
	if len(id) != requestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(requestIDChars, id[i]) < 0 {
			return false
		}
	}
	return true
}

// RequestID tags each request with an id, reusing a well-formed X-Request-ID
// header from the caller so replies can be correlated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(requestIDHeader)
		if !validRequestID(rid) {
			rid = newRequestID()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, rid)))
	})
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// AccessLog logs one line per request at debug level; chunk traffic is too
// chatty for info.
func AccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		log.Debug().
			Str("rid", GetRequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Dur("dur", time.Since(start)).
			Msg("request")
	})
}
