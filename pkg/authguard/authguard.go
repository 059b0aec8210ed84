// Package authguard is the optional bearer-token guard in front of the
// debug REST and monitoring websocket surfaces (spec.md §6 expansion).
// Grounded on pkg/web/middleware/auth/jwt.go's HS256 validation shape,
// trimmed to the one thing both surfaces need: reject a request before
// it reaches webapi/wsbridge when it lacks a valid bearer token.
package authguard

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// Guard validates an `Authorization: Bearer <token>` header against a
// single HMAC secret. A zero-value Guard (empty Secret) never rejects,
// matching spec.md's "optional" framing — operators opt in by setting
// config.RuntimeConfig.JWTSecret.
type Guard struct {
	Secret string
}

func New(secret string) *Guard {
	return &Guard{Secret: secret}
}

// Enabled reports whether a secret was configured.
func (g *Guard) Enabled() bool { return g != nil && g.Secret != "" }

func (g *Guard) verify(token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(g.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}

func bearer(raw string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, prefix), true
}

// WrapFastHTTP guards a fasthttp.RequestHandler (the webapi admin/debug
// REST surface).
func (g *Guard) WrapFastHTTP(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if !g.Enabled() {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		token, ok := bearer(string(ctx.Request.Header.Peek("Authorization")))
		if !ok || g.verify(token) != nil {
			ctx.Error("unauthorized", fasthttp.StatusUnauthorized)
			return
		}
		next(ctx)
	}
}

// WrapHTTP guards a net/http.Handler (the wsbridge monitoring stream,
// checked before the websocket upgrade).
func (g *Guard) WrapHTTP(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r.Header.Get("Authorization"))
		if !ok || g.verify(token) != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
