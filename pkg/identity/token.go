package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("operator token invalid")
	ErrTokenExpired = errors.New("operator token expired")
)

// DefaultTokenTTL bounds how long an issued operator token stays valid.
const DefaultTokenTTL = 15 * time.Minute

// TokenIssuer mints and verifies HS256 operator tokens. Verified tokens
// bind an approval decision to the operator named in the subject claim.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string) *TokenIssuer {
	return &TokenIssuer{
		secret: secret,
		issuer: issuer,
		ttl:    DefaultTokenTTL,
		clock:  time.Now,
	}
}

func (t *TokenIssuer) WithTTL(ttl time.Duration) *TokenIssuer {
	t.ttl = ttl
	return t
}

func (t *TokenIssuer) WithClock(clock func() time.Time) *TokenIssuer {
	t.clock = clock
	return t
}

// Issue signs a token whose subject is the operator identifier.
func (t *TokenIssuer) Issue(operator string) (string, error) {
	if operator == "" {
		return "", errors.New("operator is required")
	}
	now := t.clock()
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   operator,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// VerifySubject validates the signature, issuer and expiry and returns
// the operator subject. It satisfies the approval gate's token
// verifier.
func (t *TokenIssuer) VerifySubject(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
