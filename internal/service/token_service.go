package service

import (
	"fmt"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// API tokens (X-API-Token or Authorization: Bearer)
// ============================================================

const (
	tokenIssuer = "livefy-nfe"
	tokenType   = "api"
)

// APIClaims are the claims carried by API tokens. A zero MerchantID means
// the token is not scoped and may act for any merchant.
type APIClaims struct {
	MerchantID int64  `json:"merchant_id,omitempty"`
	Type       string `json:"type"`
	jwt.RegisteredClaims
}

// Scoped reports whether the token is restricted to one merchant.
func (c *APIClaims) Scoped() bool {
	return c.MerchantID != 0
}

// TokenService issues and validates HS256 API tokens.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Issue signs a token. merchantID 0 issues an unscoped token; ttl 0 issues
// a token without expiry.
func (s *TokenService) Issue(subject string, merchantID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := APIClaims{
		MerchantID: merchantID,
		Type:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   tokenIssuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign api token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token.
func (s *TokenService) Validate(tokenString string) (*APIClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &APIClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Unauthorized - Invalid API Token"}
	}

	claims, ok := token.Claims.(*APIClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Unauthorized - Invalid API Token"}
	}
	if claims.Type != tokenType {
		return nil, &domain.ErrUnauthorized{Message: "Unauthorized - Invalid API Token"}
	}
	return claims, nil
}
