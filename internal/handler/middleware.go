package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const claimsKey contextKey = "apiClaims"

// TokenValidator validates API tokens.
type TokenValidator interface {
	Validate(token string) (*service.APIClaims, error)
}

// APITokenMiddleware requires a valid API token in X-API-Token or in
// Authorization: Bearer, and injects its claims into the context.
func APITokenMiddleware(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-API-Token")
			if token == "" {
				if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					token = strings.TrimSpace(parts[1])
				}
			}
			if token == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized - Invalid API Token", nil)
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized - Invalid API Token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the authenticated token claims, or nil when
// authentication is disabled.
func ClaimsFromContext(ctx context.Context) *service.APIClaims {
	v, _ := ctx.Value(claimsKey).(*service.APIClaims)
	return v
}

// authorizeMerchant refuses requests for another merchant than the one a
// scoped token belongs to.
func authorizeMerchant(ctx context.Context, merchantID int64) error {
	claims := ClaimsFromContext(ctx)
	if claims == nil || !claims.Scoped() || claims.MerchantID == merchantID {
		return nil
	}
	return &domain.ErrForbidden{Action: "acessar dados de outro lojista"}
}

// scopedMerchant is the merchant a scoped token belongs to, or 0.
func scopedMerchant(ctx context.Context) int64 {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.MerchantID
	}
	return 0
}
