package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
)

func TestToken_IssueValidate(t *testing.T) {
	svc := service.NewTokenService("segredo")

	tok, err := svc.Issue("loja-10", 10, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if claims.MerchantID != 10 || !claims.Scoped() || claims.Subject != "loja-10" {
		t.Errorf("unexpected claims %+v", claims)
	}

	unscoped, _ := svc.Issue("ops", 0, 0)
	claims, err = svc.Validate(unscoped)
	if err != nil || claims.Scoped() || claims.ExpiresAt != nil {
		t.Errorf("expected unscoped token without expiry, got %+v, %v", claims, err)
	}
}

func TestToken_Rejections(t *testing.T) {
	svc := service.NewTokenService("segredo")

	expired, _ := svc.Issue("x", 10, time.Nanosecond)
	time.Sleep(time.Millisecond)
	otherKey, _ := service.NewTokenService("outro").Issue("x", 10, time.Hour)
	wrongType, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, service.APIClaims{
		Type:             "access",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "livefy-nfe"},
	}).SignedString([]byte("segredo"))
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, service.APIClaims{Type: "api"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":    "not-a-token",
		"expired":    expired,
		"other key":  otherKey,
		"wrong type": wrongType,
		"alg none":   noneAlg,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(tok)
			var ua *domain.ErrUnauthorized
			if !errors.As(err, &ua) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
