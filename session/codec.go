package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec defaults.
const (
	DefaultIssuer = "dashauth"
	DefaultMaxAge = 30 * 24 * time.Hour
	MinSecretLen  = 32
)

// ErrInvalidRecord is returned when a stored record fails verification.
// Callers treat such a record as unset.
var ErrInvalidRecord = errors.New("dashauth/session: invalid session record")

// Codec signs and verifies session records as HS256 JWTs.
type Codec struct {
	secret []byte
	issuer string
	maxAge time.Duration
	leeway time.Duration
	now    func() time.Time
}

// CodecOption configures the Codec.
type CodecOption func(*Codec)

// WithIssuer sets the iss claim. Default: DefaultIssuer.
func WithIssuer(iss string) CodecOption {
	return func(c *Codec) { c.issuer = iss }
}

// WithMaxAge sets how long an encoded record stays valid. Default: 30 days.
func WithMaxAge(d time.Duration) CodecOption {
	return func(c *Codec) { c.maxAge = d }
}

// WithLeeway sets the clock skew tolerated on exp and iat.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *Codec) { c.leeway = d }
}

// WithCodecClock sets the time source.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec. secret must be at least MinSecretLen bytes.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("dashauth/session: secret must be at least %d bytes", MinSecretLen)
	}
	c := &Codec{
		secret: secret,
		issuer: DefaultIssuer,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// MaxAge returns the lifetime of encoded records.
func (c *Codec) MaxAge() time.Duration { return c.maxAge }

// Encode signs rec, stamping iss, iat and exp.
func (c *Codec) Encode(rec *Record) (string, error) {
	now := c.now()
	claims := *rec
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.maxAge))

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("dashauth/session: sign record: %w", err)
	}
	return s, nil
}

// Decode verifies s and returns the record it carries.
func (c *Codec) Decode(s string) (*Record, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)

	var rec Record
	if _, err := parser.ParseWithClaims(s, &rec, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &rec, nil
}
