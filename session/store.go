package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCookieName is the cookie carrying the session.
const DefaultCookieName = "dashauth_session"

// Store loads and saves the record of one request. A missing record loads
// as an empty (unset) Record.
type Store interface {
	Load(ctx context.Context, r *http.Request) (*Record, error)
	Save(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *Record) error
	Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// CookieOptions defines how the session cookie is issued.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// normalize applies defaults. The session cookie is always HttpOnly.
func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

func (o CookieOptions) set(w http.ResponseWriter, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	} else {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// CookieStore keeps the signed record in the session cookie itself.
type CookieStore struct {
	codec *Codec
	opts  CookieOptions
}

var _ Store = (*CookieStore)(nil)

// NewCookieStore creates a cookie-backed store.
func NewCookieStore(codec *Codec, opts CookieOptions) *CookieStore {
	return &CookieStore{codec: codec, opts: opts.normalize()}
}

// Load returns the request's record. A record that fails verification is
// returned as unset together with ErrInvalidRecord.
func (s *CookieStore) Load(_ context.Context, r *http.Request) (*Record, error) {
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return &Record{}, nil
	}
	rec, err := s.codec.Decode(c.Value)
	if err != nil {
		return &Record{}, err
	}
	return rec, nil
}

func (s *CookieStore) Save(_ context.Context, w http.ResponseWriter, _ *http.Request, rec *Record) error {
	if rec.State() == StateUnset {
		s.opts.set(w, "", 0)
		return nil
	}
	v, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}
	s.opts.set(w, v, s.codec.MaxAge())
	return nil
}

func (s *CookieStore) Clear(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.opts.set(w, "", 0)
	return nil
}

// RedisStore keeps records in Redis under a random session id carried by
// the session cookie.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	opts   CookieOptions
}

var _ Store = (*RedisStore)(nil)

// DefaultRedisPrefix prefixes session keys.
const DefaultRedisPrefix = "dashauth:session:"

// NewRedisStore creates a Redis-backed store whose records live for ttl.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration, opts CookieOptions) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	return &RedisStore{rdb: rdb, prefix: DefaultRedisPrefix, ttl: ttl, opts: opts.normalize()}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, r *http.Request) (*Record, error) {
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return &Record{}, nil
	}

	val, err := s.rdb.Get(ctx, s.key(c.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Record{}, nil
	}
	if err != nil {
		return &Record{}, fmt.Errorf("dashauth/session: load: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return &Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *Record) error {
	if rec.State() == StateUnset {
		return s.Clear(ctx, w, r)
	}

	id := ""
	if c, err := r.Cookie(s.opts.Name); err == nil {
		id = c.Value
	}
	if id == "" {
		var err error
		if id, err = GenerateID(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dashauth/session: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("dashauth/session: save: %w", err)
	}
	s.opts.set(w, id, s.ttl)
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	s.opts.set(w, "", 0)
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, s.key(c.Value)).Err(); err != nil {
		return fmt.Errorf("dashauth/session: clear: %w", err)
	}
	return nil
}

// GenerateID returns a random session id with 256 bits of entropy.
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("dashauth/session: generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
