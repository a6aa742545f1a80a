package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/livefy-nfe-go/internal/service"
)

func TestHealth(t *testing.T) {
	h := service.NewHealthService("livefy-nfe", "1.2.3", 0)

	status := h.Health()
	if status.Status != "healthy" || status.Service != "livefy-nfe" || status.Version != "1.2.3" {
		t.Errorf("unexpected health %+v", status)
	}
	for _, c := range []string{"sha1", "sha256", "xmldsig", "pkcs12"} {
		if _, ok := status.Capabilities[c]; !ok {
			t.Errorf("expected capability %s", c)
		}
	}
}

func TestReady(t *testing.T) {
	ok := service.Probe{Name: "database", Check: func(context.Context) error { return nil }}
	down := service.Probe{Name: "certificates", Check: func(context.Context) error { return errors.New("read-only") }}
	slow := service.Probe{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	t.Run("all up", func(t *testing.T) {
		r := service.NewHealthService("x", "v", time.Second, ok).Ready(context.Background())
		if r.Status != "ready" || len(r.Components) != 1 || r.Components[0].Status != "up" {
			t.Errorf("unexpected readiness %+v", r)
		}
	})

	t.Run("one down", func(t *testing.T) {
		r := service.NewHealthService("x", "v", time.Second, ok, down).Ready(context.Background())
		if r.Status != "not_ready" {
			t.Fatalf("expected not_ready, got %s", r.Status)
		}
		if r.Components[0].Name != "database" || r.Components[1].Status != "down" || r.Components[1].Error != "read-only" {
			t.Errorf("unexpected components %+v", r.Components)
		}
	})

	t.Run("probe timeout", func(t *testing.T) {
		r := service.NewHealthService("x", "v", 20*time.Millisecond, slow).Ready(context.Background())
		if r.Status != "not_ready" || r.Components[0].Error == "" {
			t.Errorf("expected timed out probe to be down, got %+v", r)
		}
	})
}
