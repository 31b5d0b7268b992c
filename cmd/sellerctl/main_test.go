package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fast-fab/Seller-service/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := run(t, "token", "--seller-id", "S1", "--email", "s1@example.com")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	claims, err := auth.NewJWTService("cli-secret").ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.SellerID != "S1" || claims.Email != "s1@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenCommandRequiresSeller(t *testing.T) {
	if _, err := run(t, "token"); err == nil {
		t.Fatal("expected error without --seller-id")
	}
}

func TestPublishRefusesInMemoryBroker(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "memory")

	_, err := run(t, "publish-order", "--product-id", "P1")
	if err == nil || !strings.Contains(err.Error(), "no external broker") {
		t.Fatalf("expected in-memory broker to be refused, got %v", err)
	}
}

func TestPublishOrderRequiresProduct(t *testing.T) {
	if _, err := run(t, "publish-order"); err == nil {
		t.Fatal("expected error without --product-id")
	}
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	for _, steps := range []string{"0", "-2", "many"} {
		if _, err := run(t, "migrate", "down", steps); err == nil {
			t.Errorf("expected error for steps %q", steps)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "sellerctl version ") {
		t.Errorf("unexpected output %q", out)
	}
}
