package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/httputil"
)

func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwnSeller rejects requests whose {param} path variable is not the
// authenticated seller. It must run after AuthMiddleware.
func RequireOwnSeller(param string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := mux.Vars(r)[param]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			sellerID := auth.SellerIDFromContext(r.Context())
			if sellerID == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if id != sellerID {
				httputil.WriteError(w, http.StatusForbidden, "cannot modify another seller")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
