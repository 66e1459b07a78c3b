package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	// ErrNoSession means the request carried no credentials.
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession means credentials were present but not acceptable.
	ErrInvalidSession = errors.New("invalid session")
)

// User is the authenticated caller. Every conversation operation receives its
// id explicitly.
type User struct {
	ID       string
	Name     string
	Language string
}

// Claims are the bearer token claims. The user id is the subject.
type Claims struct {
	Name     string `json:"name,omitempty"`
	Language string `json:"lang,omitempty"`
	jwt.StandardClaims
}

// Provider issues and verifies HS256 bearer tokens.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider creates a provider. A zero ttl issues tokens without expiry.
func NewProvider(secret string, ttl time.Duration) (*Provider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for u.
func (p *Provider) Issue(u User) (string, error) {
	if err := ValidateUserID(u.ID); err != nil {
		return "", err
	}
	now := p.now()
	claims := Claims{
		Name:     u.Name,
		Language: u.Language,
		StandardClaims: jwt.StandardClaims{
			Subject:  u.ID,
			IssuedAt: now.Unix(),
		},
	}
	if p.ttl > 0 {
		claims.ExpiresAt = now.Add(p.ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Authenticate resolves a raw bearer token to its user. An empty token is
// ErrNoSession. Anything else that fails is ErrInvalidSession.
func (p *Provider) Authenticate(raw string) (User, error) {
	if raw == "" {
		return User{}, ErrNoSession
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || ValidateUserID(claims.Subject) != nil {
		return User{}, ErrInvalidSession
	}
	return User{ID: claims.Subject, Name: claims.Name, Language: claims.Language}, nil
}

// Peek reads the user from a token without verifying its signature. Clients
// use it to learn their own identity; the daemon always calls Authenticate.
func Peek(raw string) (User, error) {
	if raw == "" {
		return User{}, ErrNoSession
	}
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, &claims); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if ValidateUserID(claims.Subject) != nil {
		return User{}, ErrInvalidSession
	}
	return User{ID: claims.Subject, Name: claims.Name, Language: claims.Language}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type userKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
