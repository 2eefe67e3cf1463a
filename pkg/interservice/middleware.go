package interservice

import (
	"bytes"
	"io"
	"log"
	"net/http"

	"github.com/certen/bundler-gateway/pkg/apierr"
)

// RequireSignature wraps handler, rejecting requests that fail Verify
// with apierr.Unauthorized. It restores the request body after reading
// it for signature verification so the wrapped handler can still
// consume it.
func RequireSignature(secretHex string, logger *log.Logger, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			apierr.Write(w, logger, "", apierr.Wrap(apierr.ClientMalformed, "could not read body", err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := Verify(secretHex, r.Method, r.URL.Path, r.Header, body); err != nil {
			apierr.Write(w, logger, "", apierr.Wrap(apierr.Unauthorized, "inter-service authentication failed", err))
			return
		}
		handler(w, r)
	}
}
