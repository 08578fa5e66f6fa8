package auth

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const (
	ctxKeyIdentity ctxKey = "identity"

	// OwnerHeader carries the owner id for clients without a token. It is
	// echoed back so an anonymous client can keep polling its own jobs.
	OwnerHeader = "X-User-ID"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// Identity is who a request acts for. Jobs are scoped to OwnerID.
type Identity struct {
	OwnerID string
	Roles   []string
	Token   bool
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// OwnerMiddleware resolves the job owner. A bearer token wins when a secret
// is configured; otherwise the X-User-ID header is used, and a fresh
// anonymous owner is issued when neither is present.
func OwnerMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id Identity

			if raw := r.Header.Get("Authorization"); raw != "" {
				if secret == "" || !strings.HasPrefix(raw, "Bearer ") {
					http.Error(w, "invalid authorization header", http.StatusUnauthorized)
					return
				}
				cl, err := ParseToken(secret, issuer, strings.TrimPrefix(raw, "Bearer "))
				if err != nil {
					slog.Warn("jwt parse failed", "error", err)
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				roles := cl.Roles
				if len(roles) == 0 {
					roles = []string{RoleUser}
				}
				id = Identity{OwnerID: cl.OwnerID, Roles: roles, Token: true}
			} else {
				owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
				if owner == "" {
					owner = "anon-" + uuid.NewString()
				} else if !ownerPattern.MatchString(owner) {
					http.Error(w, "invalid "+OwnerHeader+" header", http.StatusBadRequest)
					return
				}
				id = Identity{OwnerID: owner, Roles: []string{RoleUser}}
			}

			w.Header().Set(OwnerHeader, id.OwnerID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func RequirePerm(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "no auth context", http.StatusUnauthorized)
				return
			}
			perms := PermsForRoles(id.Roles)
			if _, ok := perms[PermAdminAll]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := perms[required]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
