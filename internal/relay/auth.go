package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the relay's JWT claim set, per spec.md §6: publicKey, optional
// name, jti, and the standard exp.
type Claims struct {
	PublicKey string `json:"publicKey"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies bearer JWTs and tracks revocations.
// The revocation set is process-wide per spec.md §9: one Authenticator per
// running relay, torn down at process exit.
type Authenticator struct {
	secret []byte
	expiry time.Duration

	mu        sync.Mutex
	revoked   map[string]time.Time // jti -> original expiry
}

// NewAuthenticator builds an Authenticator. secret must be non-empty: the
// relay disables its REST surface entirely when AGORA_RELAY_JWT_SECRET is
// unset (spec.md §6), so callers only construct this when REST is enabled.
func NewAuthenticator(secret string, expiry time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("relay: JWT secret must not be empty")
	}
	return &Authenticator{
		secret:  []byte(secret),
		expiry:  expiry,
		revoked: make(map[string]time.Time),
	}, nil
}

// Mint issues a signed bearer token for (publicKey, name, jti).
func (a *Authenticator) Mint(publicKey, name, jti string) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(a.expiry)
	claims := Claims{
		PublicKey: publicKey,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// ErrMissingAuth, ErrInvalidAuth, and ErrRevoked distinguish the three 401
// causes spec.md §8's boundary behaviors require ("missing, malformed,
// expired, revoked -> 401, one each").
var (
	ErrMissingAuth = fmt.Errorf("relay: missing authorization header")
	ErrInvalidAuth = fmt.Errorf("relay: invalid or expired token")
	ErrRevoked     = fmt.Errorf("relay: token revoked")
)

// Verify parses and validates tokenString, rejecting it if its jti is in
// the revocation set even when the signature and expiry are otherwise
// valid (invariant I6).
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidAuth
	}

	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke adds jti to the revocation set until it would have expired
// anyway, and prunes every other entry whose expiry has already passed
// (spec.md §3 Revocation Entry: "pruned on every new revocation").
func (a *Authenticator) Revoke(jti string, expiry time.Time) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.revoked[jti] = expiry
	for k, exp := range a.revoked {
		if now.After(exp) {
			delete(a.revoked, k)
		}
	}
}

// IsRevoked reports whether jti is currently in the revocation set (test
// helper).
func (a *Authenticator) IsRevoked(jti string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.revoked[jti]
	return ok
}
