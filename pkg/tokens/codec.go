package tokens

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the bearer credential lifetime.
const DefaultTTL = 15 * time.Minute

var ErrEmptySecret = errors.New("tokens: signing secret is empty")

// Claims is the bearer claim set. ID carries the principal id.
type Claims struct {
	ID uint `json:"id"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 bearer credentials. It holds no mutable state.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured bearer lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a credential for principalID valid for TTL from now.
func (c *Codec) Issue(principalID uint) (string, error) {
	now := c.now()
	claims := Claims{
		ID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(principalID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify returns the principal id carried by raw. Any malformation, bad
// signature or expiry yields ok == false with no further detail. There is no
// clock-skew leeway: a credential is invalid from its expiry instant on.
func (c *Codec) Verify(raw string) (principalID uint, ok bool) {
	if raw == "" {
		return 0, false
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, c.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid || claims.ID == 0 {
		return 0, false
	}
	return claims.ID, true
}

func (c *Codec) key(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return c.secret, nil
}
