package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func newProvider(t *testing.T, ttl time.Duration) *Provider {
	t.Helper()
	p, err := NewProvider("test-secret", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIssueAndAuthenticate(t *testing.T) {
	p := newProvider(t, time.Hour)
	token, err := p.Issue(User{ID: "buyer", Name: "Ana", Language: "pt-BR"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := p.Authenticate(token)
	if err != nil {
		t.Fatal(err)
	}
	if u != (User{ID: "buyer", Name: "Ana", Language: "pt-BR"}) {
		t.Errorf("user = %+v", u)
	}
}

func TestNewProviderRequiresSecret(t *testing.T) {
	if _, err := NewProvider("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestIssueRejectsBadUserID(t *testing.T) {
	p := newProvider(t, 0)
	if _, err := p.Issue(User{ID: "no spaces"}); err == nil {
		t.Error("expected error")
	}
}

func TestAuthenticateFailures(t *testing.T) {
	p := newProvider(t, time.Hour)

	other, _ := NewProvider("other-secret", time.Hour)
	foreign, err := other.Issue(User{ID: "buyer"})
	if err != nil {
		t.Fatal(err)
	}

	expiredProvider := newProvider(t, time.Hour)
	expiredProvider.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredProvider.Issue(User{ID: "buyer"})
	if err != nil {
		t.Fatal(err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{StandardClaims: jwt.StandardClaims{Subject: "buyer"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrNoSession},
		{"garbage", "not.a.token", ErrInvalidSession},
		{"wrong secret", foreign, ErrInvalidSession},
		{"expired", expired, ErrInvalidSession},
		{"alg none", unsigned, ErrInvalidSession},
		{"no subject", noSubject, ErrInvalidSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Authenticate(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for in, want := range tests {
		if got := BearerToken(in); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFrom(ctx); ok {
		t.Error("empty context has a user")
	}
	u, ok := UserFrom(WithUser(ctx, User{ID: "owner"}))
	if !ok || u.ID != "owner" {
		t.Errorf("UserFrom() = %+v, %v", u, ok)
	}
}

func TestPeek(t *testing.T) {
	p := newProvider(t, time.Hour)
	tok, err := p.Issue(User{ID: "runner-1", Name: "Ana", Language: "pt-BR"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := Peek(tok)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "runner-1" || u.Language != "pt-BR" {
		t.Errorf("Peek = %+v", u)
	}

	if _, err := Peek(""); !errors.Is(err, ErrNoSession) {
		t.Errorf("empty token err = %v, want ErrNoSession", err)
	}
	if _, err := Peek("not.a.token"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("garbage token err = %v, want ErrInvalidSession", err)
	}
}
