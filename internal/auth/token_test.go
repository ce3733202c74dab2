package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, expiresAt, err := issuer.Issue(7, "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiresAt = %v, want future", expiresAt)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Sub != 7 || claims.Name != "Avery" || claims.JTI == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  1,
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, _, err := issuer.Issue(1, "Avery")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	cases := map[string]string{
		"other secret": token,
		"no signature": strings.SplitN(token, ".", 2)[0],
		"extra part":   token + ".x",
		"empty":        "",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			parser := issuer
			if name == "other secret" {
				parser = NewIssuer("different", time.Hour)
			}
			if _, err := parser.Parse(value); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestParseTokenRequiresSubject(t *testing.T) {
	secret := []byte("secret")
	issued, _ := IssueToken(secret, Claims{Name: "x", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}
