package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/idempotency"
	"github.com/tinoosan/fintrack/internal/token"
)

type ctxKey string

const (
	ctxKeyIdentity   ctxKey = "identity"
	ctxKeyListTx     ctxKey = "validatedListTransactions"
	ctxKeyPostTx     ctxKey = "validatedPostTransaction"
	ctxKeyPotAmount  ctxKey = "validatedPotAmount"
	ctxKeyBillsQuery ctxKey = "validatedListBills"
)

// requestLogger logs basic request info at INFO.
func requestLogger(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			reqID := chimw.GetReqID(r.Context())
			l.Info("request started", "req_id", reqID, "method", r.Method, "path", r.URL.Path)

			next.ServeHTTP(ww, r)

			l.Info("request complete",
				"req_id", reqID,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

// recoverer logs panics as ERROR and answers with the internal error envelope.
func recoverer(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					reqID := chimw.GetReqID(r.Context())
					l.Error("panic", "req_id", reqID, "err", rec, "stack", string(debug.Stack()))
					writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[len("Bearer "):])
	return tok, tok != ""
}

// authenticate requires a valid access token and stores the identity in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := parseBearerToken(r)
		if !ok {
			authFailures.WithLabelValues("verify").Inc()
			s.writeError(w, r, errs.Unauthenticated("missing bearer token"))
			return
		}
		id, err := s.auth.VerifyAccessToken(tok)
		if err != nil {
			authFailures.WithLabelValues("verify").Inc()
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity returns the caller established by authenticate.
func identity(r *http.Request) token.Identity {
	id, _ := r.Context().Value(ctxKeyIdentity).(token.Identity)
	return id
}

// idempotent hands an Idempotency-Key header to the services, together with
// a digest of the method, path and body it arrived with. Requests without
// the header pass through untouched.
func idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > idempotency.MaxKeyLen {
			badRequest(w, fmt.Sprintf("Idempotency-Key must be at most %d characters", idempotency.MaxKeyLen))
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErr(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", fmt.Sprintf("request body must not exceed %d bytes", maxBodyBytes))
				return
			}
			badRequest(w, "could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		hash := idempotency.Hash(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
		ctx := idempotency.WithKey(r.Context(), idempotency.Key{Value: key, Hash: hash})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeErr(w, http.StatusNotFound, "NOT_FOUND", "route "+r.Method+" "+r.URL.Path+" not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErr(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method "+r.Method+" not allowed on "+r.URL.Path)
}
