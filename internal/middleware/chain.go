package middleware

import "net/http"

// Chain composes middlewares around a handler. The first middleware is the
// outermost wrapper: Chain(A, B)(h) runs A, then B, then h.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}
