package auth

import (
	"testing"
	"time"
)

const testSecret = "test-secret-key-that-is-32-bytes!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService([]byte(testSecret), 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	if _, err := NewTokenService([]byte("short"), time.Minute); err != ErrWeakSecret {
		t.Errorf("err = %v, want ErrWeakSecret", err)
	}
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueAccessToken("dock-display", ScopeControl)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ts.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != "dock-display" {
		t.Errorf("Subject = %q, want dock-display", claims.Subject)
	}
	if claims.Issuer != "tagwatch" {
		t.Errorf("Issuer = %q, want tagwatch", claims.Issuer)
	}
	if !claims.HasScope(ScopeControl) || !claims.HasScope(ScopeRead) {
		t.Errorf("scopes = %v, want control implying read", claims.Scopes)
	}

	again, _ := ts.IssueAccessToken("dock-display", ScopeControl)
	other, err := ts.ValidateAccessToken(again)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.ID == "" || claims.ID == other.ID {
		t.Errorf("token ids %q and %q should be unique", claims.ID, other.ID)
	}
}

func TestIssueAccessToken_DefaultsToRead(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.IssueAccessToken("viewer")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := ts.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if !claims.HasScope(ScopeRead) {
		t.Error("expected read scope")
	}
	if claims.HasScope(ScopeControl) {
		t.Error("read token must not grant control")
	}
}

func TestIssueAccessToken_UnknownScope(t *testing.T) {
	ts := newTestTokenService(t)
	if _, err := ts.IssueAccessToken("x", "admin"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService([]byte("secret-one-is-at-least-32-bytes!!"), 15*time.Minute)
	ts2, _ := NewTokenService([]byte("secret-two-is-at-least-32-bytes!!"), 15*time.Minute)

	token, err := ts1.IssueAccessToken("viewer")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := ts2.ValidateAccessToken(token); err == nil {
		t.Error("expected error validating token with wrong secret")
	}
}

func TestValidateAccessToken_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return issued }
	token, err := ts.IssueAccessToken("viewer")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	ts.now = func() time.Time { return issued.Add(time.Hour) }
	if _, err := ts.ValidateAccessToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	ts := newTestTokenService(t)
	if _, err := ts.ValidateAccessToken("not.a.jwt"); err == nil {
		t.Error("expected error for garbage token")
	}
}
