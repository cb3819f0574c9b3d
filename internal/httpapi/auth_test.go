package httpapi

import (
	"testing"
	"time"

	"saboracampo/backend/internal/domain"
	"saboracampo/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	return NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())
}

func TestLoginAndParseTokenRoundtrip(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "seller", Password: "seller123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != "seller" {
		t.Fatalf("expected seller role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "seller" || actor.Role != domain.RoleSeller {
		t.Fatalf("unexpected actor: %+v", actor)
	}
	if actor.ID == "" || actor.Name == "" {
		t.Fatalf("expected id and name claims, got %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "seller", Password: "nope"}); err == nil {
		t.Fatalf("expected login failure")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "seller123"}); err == nil {
		t.Fatalf("expected login failure for unknown user")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected parse failure")
	}

	// A token signed with a different secret must not validate.
	other := NewAuthManager("another-secret-key!", time.Hour, memory.NewSeeded())
	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login on other manager: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected cross-secret token rejection")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "ab", Password: "secret1", Role: "seller", Name: "A"}); err == nil {
		t.Fatalf("expected short username rejection")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "nuevo", Password: "123", Role: "seller", Name: "A"}); err == nil {
		t.Fatalf("expected short password rejection")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "nuevo", Password: "secret1", Role: "owner", Name: "A"}); err == nil {
		t.Fatalf("expected unknown role rejection")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "admin", Password: "secret1", Role: "seller", Name: "A"}); err == nil {
		t.Fatalf("expected duplicate username rejection")
	}

	user, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "Nuevo", Password: "secret1", Role: "vendedor", Name: "Nuevo Vendedor"})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if user.Username != "nuevo" || user.Role != "seller" {
		t.Fatalf("expected lowercased username and parsed role, got %+v", user)
	}

	resp, err := auth.Login(domain.LoginRequest{Username: "nuevo", Password: "secret1"})
	if err != nil {
		t.Fatalf("login as new staff: %v", err)
	}
	if resp.Role != "seller" {
		t.Fatalf("expected seller role, got %s", resp.Role)
	}
}
