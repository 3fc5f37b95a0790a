package daemon

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"novelverse/internal/stream"
)

// Identity is the caller an Authenticator accepted.
type Identity struct {
	UserID string
}

// Authenticator decides whether a request may reach the protected routes.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, bool)
}

// BearerAuth accepts requests carrying "Authorization: Bearer <Token>".
// An empty Token accepts everything. With TrustUserIDHeader the X-User-ID
// header names the caller; it is only meaningful behind a gateway that sets it.
type BearerAuth struct {
	Token             string
	TrustUserIDHeader bool
}

func (a BearerAuth) Authenticate(r *http.Request) (Identity, bool) {
	var id Identity
	if a.TrustUserIDHeader {
		id.UserID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}
	if a.Token == "" {
		return id, true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return Identity{}, false
	}
	presented := strings.TrimPrefix(auth, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.Token)) != 1 {
		return Identity{}, false
	}
	return id, true
}

type identityKey struct{}

// authMiddleware rejects requests the authenticator refuses and stores the
// accepted identity on the request context.
func authMiddleware(auth Authenticator, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.Authenticate(r)
		if !ok {
			stream.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userIDFromRequest reads the identity stored by authMiddleware.
func userIDFromRequest(r *http.Request) string {
	id, _ := r.Context().Value(identityKey{}).(Identity)
	return id.UserID
}
