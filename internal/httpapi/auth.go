package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/perm"
)

type principalCtxKey struct{}

// authenticate resolves the Authorization: Bearer <token> header (or
// the admin session cookie, left for a future admin-login handler)
// into a perm.Principal and stores it on the request context. A
// missing or unrecognized credential resolves to the guest principal
// rather than rejecting the request outright, spec §4.A — rejection
// is a policy decision for perm.Table, made downstream in the Facade.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := perm.NewGuestPrincipal()

		if token, ok := bearerToken(r); ok && s.keys != nil {
			if p, found := s.keys.PrincipalForToken(r.Context(), token); found {
				principal = p
			}
		}

		ctx := context.WithValue(r.Context(), principalCtxKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}

// principalFrom reads the Principal authenticate stored on ctx,
// falling back to a fresh guest principal if none was ever attached
// (e.g. a handler invoked outside the Router's middleware chain,
// which only happens in tests).
func principalFrom(ctx context.Context) perm.Principal {
	if p, ok := ctx.Value(principalCtxKey{}).(perm.Principal); ok {
		return p
	}
	return perm.NewGuestPrincipal()
}
