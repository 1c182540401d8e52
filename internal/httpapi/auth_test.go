package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"bakeops/backend/internal/domain"
	"bakeops/backend/internal/store/memory"
)

func TestLoginIssuesParseableToken(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, memory.New())

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, memory.New())

	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if err == nil {
		t.Fatalf("expected login to fail")
	}
}

func TestParseTokenRejectsForeignIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, memory.New())

	claims := authClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
		Role: "admin",
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token with a foreign issuer to be rejected")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	repo := memory.New()
	issuer := NewAuthManager("secret-one", time.Hour, repo)
	verifier := NewAuthManager("secret-two", time.Hour, repo)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestRegisterUserStoresPasswordHash(t *testing.T) {
	repo := memory.New()
	manager := NewAuthManager("test-secret", time.Hour, repo)
	ctx := context.Background()

	user, err := manager.RegisterUser(ctx, domain.UserCreateRequest{
		Username: "baker1",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("register user failed: %v", err)
	}
	if user.Role != "staff" {
		t.Fatalf("default role = %q, want staff", user.Role)
	}

	stored, err := repo.GetUser(ctx, "baker1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.Password == "pass1234" {
		t.Fatalf("expected password to be hashed")
	}
	if !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", stored.Password)
	}

	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "baker1", Password: "pass1234"}); err != nil {
		t.Fatalf("login with new account failed: %v", err)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, memory.New())
	ctx := context.Background()

	if _, err := manager.RegisterUser(ctx, domain.UserCreateRequest{Username: "ab", Password: "pass1234"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := manager.RegisterUser(ctx, domain.UserCreateRequest{Username: "baker1", Password: "short"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if _, err := manager.RegisterUser(ctx, domain.UserCreateRequest{Username: "baker1", Password: "pass1234", Role: "owner"}); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, err := manager.RegisterUser(ctx, domain.UserCreateRequest{Username: "admin", Password: "pass1234"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}
