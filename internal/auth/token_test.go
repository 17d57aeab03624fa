package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("secret")
	now := time.Unix(1_700_000_000, 0)
	issued, err := Issue(secret, NewClaims("user-1", "member", time.Hour, now))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := Parse(secret, issued, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "member" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	secret := []byte("secret")
	now := time.Unix(1_700_000_000, 0)
	valid, err := Issue(secret, NewClaims("user-1", "member", time.Hour, now))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	missingSubject, _ := Issue(secret, Claims{ID: "jti", ExpiresAt: now.Add(time.Hour).Unix()})

	tests := []struct {
		name  string
		token string
		at    time.Time
		want  error
	}{
		{name: "expired", token: valid, at: now.Add(2 * time.Hour), want: ErrExpiredToken},
		{name: "wrong secret", token: signedWith([]byte("other"), now), at: now, want: ErrInvalidToken},
		{name: "tampered payload", token: "x" + valid, at: now, want: ErrInvalidToken},
		{name: "no separator", token: strings.ReplaceAll(valid, ".", ""), at: now, want: ErrInvalidToken},
		{name: "extra segment", token: valid + ".extra", at: now, want: ErrInvalidToken},
		{name: "missing subject", token: missingSubject, at: now, want: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(secret, tt.token, tt.at); !errors.Is(err, tt.want) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func signedWith(secret []byte, now time.Time) string {
	token, _ := Issue(secret, NewClaims("user-1", "member", time.Hour, now))
	return token
}
