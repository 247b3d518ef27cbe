package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-secret"

func testAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, testSecret)
	return NewAuth(nil, "", "")
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerTokenFromString(t *testing.T) {
	token, err := bearerTokenFromString("Bearer aaa.bbb.ccc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "aaa.bbb.ccc" {
		t.Fatalf("unexpected token: %s", token)
	}

	if _, err := bearerTokenFromString("   Bearer aaa.bbb.ccc  "); err != nil {
		t.Fatalf("surrounding spaces should be tolerated: %v", err)
	}

	if _, err := bearerTokenFromString(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing authorization, got %v", err)
	}
	for _, bad := range []string{
		"aaa.bbb.ccc",
		"Basic aaa.bbb.ccc",
		"Bearer ",
		"Bearer aaa.bbb",
		"Bearer aaa.bbb.ccc.ddd",
	} {
		if _, err := bearerTokenFromString(bad); !errors.Is(err, errBadAuthorization) {
			t.Fatalf("expected bad authorization for %q, got %v", bad, err)
		}
	}
}

func TestBearerTokenFromHandshake(t *testing.T) {
	token, err := bearerTokenFromHandshake("", "aaa.bbb.ccc")
	if err != nil {
		t.Fatalf("query fallback failed: %v", err)
	}
	if string(token) != "aaa.bbb.ccc" {
		t.Fatalf("unexpected token: %s", token)
	}

	// header wins over the query parameter
	token, err = bearerTokenFromHandshake("Bearer hhh.iii.jjj", "aaa.bbb.ccc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "hhh.iii.jjj" {
		t.Fatalf("expected header token, got %s", token)
	}

	if _, err := bearerTokenFromHandshake("", ""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing authorization, got %v", err)
	}
}

func TestUserIDFromBearerValidToken(t *testing.T) {
	auth := testAuth(t)
	raw := signedToken(t, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	userID, err := auth.UserIDFromBearer([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-7" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerExpiredToken(t *testing.T) {
	auth := testAuth(t)
	raw := signedToken(t, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromBearer([]byte(raw)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromBearerMissingSub(t *testing.T) {
	auth := testAuth(t)
	raw := signedToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.UserIDFromBearer([]byte(raw)); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestUserIDFromBearerBadSignature(t *testing.T) {
	auth := testAuth(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := auth.UserIDFromBearer([]byte(raw)); err == nil {
		t.Fatal("expected forged token to be rejected")
	}
}

func TestUserIDFromAuthHeader(t *testing.T) {
	auth := testAuth(t)
	raw := signedToken(t, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-7" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	if _, err := auth.UserIDFromAuthHeader(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing authorization, got %v", err)
	}
}
