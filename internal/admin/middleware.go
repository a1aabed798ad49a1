package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/venturedeck/venturedeck/internal/platform/httpx"
	"github.com/venturedeck/venturedeck/internal/rbac"
)

type accessContextKey struct{}

// ContextWithAccess stores the admitted access in context.
func ContextWithAccess(ctx context.Context, access *Access) context.Context {
	return context.WithValue(ctx, accessContextKey{}, access)
}

// AccessFromContext extracts the admitted access from context.
func AccessFromContext(ctx context.Context) *Access {
	access, _ := ctx.Value(accessContextKey{}).(*Access)
	return access
}

// Middleware admits requests through the gate and stores the resulting Access
// on the request context. An empty perm only requires a session.
func (g *Gate) Middleware(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := g.Require(r.Context(), r.Header, perm)
			if err != nil {
				if !isGateRejection(err) {
					g.logger.Error("admin gate", slog.Any("error", err), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccess(r.Context(), access)))
		})
	}
}

func isGateRejection(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrRateLimited)
}
