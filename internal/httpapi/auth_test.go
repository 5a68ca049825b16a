package httpapi

import (
	"testing"
	"time"

	"partsbill/backend/internal/domain"
	"partsbill/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	return NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded("SV"))
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginNormalizesUsername(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "  Admin ", Password: "admin123"}); err != nil {
		t.Fatalf("expected login with padded mixed-case username to succeed: %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatalf("expected login failure for wrong password")
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "admin123"}); err == nil {
		t.Fatalf("expected login failure for unknown user")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected parse failure for garbage token")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	repo := memory.NewSeeded("SV")
	issuer := NewAuthManager("secret-one-xxxxxxxxxxxxxxxxxxxxx", time.Hour, repo)
	verifier := NewAuthManager("secret-two-xxxxxxxxxxxxxxxxxxxxx", time.Hour, repo)

	resp, err := issuer.Login(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestCreateCashierPersistsThroughUserStore(t *testing.T) {
	repo := memory.NewSeeded("SV")
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	created, err := auth.CreateCashier(domain.UserCreateRequest{Username: "NewKasir", Password: "secret99"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Username != "newkasir" || created.Role != "cashier" {
		t.Fatalf("unexpected created user: %+v", created)
	}

	// A fresh manager on the same store must see the persisted account.
	other := NewAuthManager("test-secret-key", time.Hour, repo)
	resp, err := other.Login(domain.LoginRequest{Username: "newkasir", Password: "secret99"})
	if err != nil {
		t.Fatalf("login as provisioned cashier: %v", err)
	}
	if resp.Role != "cashier" {
		t.Fatalf("expected cashier role, got %s", resp.Role)
	}
}

func TestCreateCashierRejectsDuplicate(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.CreateCashier(domain.UserCreateRequest{Username: "cashier", Password: "secret99"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.CreateCashier(domain.UserCreateRequest{Username: "ab", Password: "secret99"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := auth.CreateCashier(domain.UserCreateRequest{Username: "validname", Password: "123"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestListCashiersExcludesAdmins(t *testing.T) {
	auth := newTestAuth(t)

	users := auth.ListCashiers()
	if len(users) != 1 || users[0].Username != "cashier" {
		t.Fatalf("expected only the seeded cashier, got %+v", users)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := newTestAuth(t)

	token, err := auth.sign("admin", "admin", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
