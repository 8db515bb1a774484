// Package httpmiddleware contains the net/http middleware of the checkout
// server.
package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// WriteError writes the {"error": msg, "details": [...]} body every error
// response of the server uses.
func WriteError(w http.ResponseWriter, status int, msg string, details ...string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		e.Field("details", func(e *jx.Encoder) {
			e.ArrStart()
			for _, d := range details {
				e.Str(d)
			}
			e.ArrEnd()
		})
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
