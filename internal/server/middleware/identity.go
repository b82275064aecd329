package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/privymarket/internal/crypto"
	"github.com/alanyoungcy/privymarket/internal/domain"
)

// maxSignedBody caps the body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the verified caller identity.
func WithCaller(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the verified caller identity, if the request was signed.
func CallerFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(domain.Identity)
	return id, ok
}

// Identity verifies the X-Privy-* signature headers. Unsigned requests pass
// through anonymously and handlers decide whether they need a caller. A
// request carrying any of the headers must carry a valid signature with a
// timestamp within maxSkew of now, or it is rejected with 401.
func Identity(maxSkew time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHdr := r.Header.Get(crypto.HeaderAddress)
			tsHdr := r.Header.Get(crypto.HeaderTimestamp)
			sigHdr := r.Header.Get(crypto.HeaderSignature)
			if addrHdr == "" && tsHdr == "" && sigHdr == "" {
				next.ServeHTTP(w, r)
				return
			}

			addr, err := domain.ParseIdentity(addrHdr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "InvalidIdentity", "malformed "+crypto.HeaderAddress)
				return
			}
			ts, err := strconv.ParseInt(tsHdr, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "InvalidTimestamp", "malformed "+crypto.HeaderTimestamp)
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)).Abs(); maxSkew > 0 && skew > maxSkew {
				writeError(w, http.StatusUnauthorized, "StaleTimestamp", "request timestamp outside the allowed skew")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "BadRequest", "failed to read body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "BodyTooLarge", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := crypto.VerifyRequest(addr, sigHdr, ts, r.Method, r.URL.RequestURI(), body); err != nil {
				writeError(w, http.StatusUnauthorized, "InvalidSignature", "request signature does not match "+crypto.HeaderAddress)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":"`+code+`","message":"`+msg+`"}`)
}
