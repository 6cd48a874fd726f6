package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ryanbastic/go-diary/internal/diary"
)

// Scope limits what an authorization may be used for.
type Scope string

const (
	// ScopeSubmit allows creating entries as the owner.
	ScopeSubmit Scope = "submit"
	// ScopeDecrypt allows decrypting the owner's handles.
	ScopeDecrypt Scope = "decrypt"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool { return s == ScopeSubmit || s == ScopeDecrypt }

// Grant is a verified authorization.
type Grant struct {
	Owner     diary.Owner
	Contract  string
	Scope     Scope
	ExpiresAt time.Time
}

type grantClaims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// Authority signs and verifies scoped, time-limited authorizations with a
// shared secret.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthority creates an Authority issuing tokens valid for ttl.
func NewAuthority(secret []byte, ttl time.Duration) *Authority {
	return &Authority{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for owner on contract. A zero ttl uses the default.
func (a *Authority) Issue(owner diary.Owner, contract string, scope Scope, ttl time.Duration) (string, time.Time, error) {
	if !scope.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown scope %q", scope)
	}
	if ttl <= 0 {
		ttl = a.ttl
	}
	now := a.now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   owner.String(),
			Audience:  jwt.ClaimStrings{contract},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope: scope,
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign authorization: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the token signature, validity window, contract and scope.
// Every failure wraps diary.ErrUnauthorized.
func (a *Authority) Verify(token, contract string, scope Scope) (*Grant, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: missing authorization", diary.ErrUnauthorized)
	}
	claims := &grantClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(contract),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", diary.ErrUnauthorized, err)
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: scope %q, need %q", diary.ErrUnauthorized, claims.Scope, scope)
	}
	owner, err := diary.ParseOwner(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", diary.ErrUnauthorized, err)
	}
	return &Grant{
		Owner:     owner,
		Contract:  contract,
		Scope:     scope,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
