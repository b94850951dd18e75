package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultCookieName = "bugtracker_session"

// Config configures a Manager.
type Config struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Secure     bool
}

// Manager issues session cookies and loads and saves the sessions they
// point to. The cookie holds an HS256 token whose ID claim is the session
// id; the data itself stays in the Store.
type Manager struct {
	store      Store
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

// NewManager creates a new Manager.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Manager{
		store:      store,
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		secure:     cfg.Secure,
		now:        time.Now,
	}
}

// Session is the state of one browser session during a request.
type Session struct {
	id       string
	data     Data
	dirty    bool
	previous string
}

// UserID returns the signed-in user, or 0.
func (s *Session) UserID() int64 {
	return s.data.UserID
}

// SetUserID binds the session to a user.
func (s *Session) SetUserID(id int64) {
	s.data.UserID = id
	s.dirty = true
}

// SetFlash replaces the pending flash message.
func (s *Session) SetFlash(kind FlashKind, message string) {
	s.data.Flash = &Flash{Kind: kind, Message: message}
	s.dirty = true
}

// PopFlash returns the pending flash message and removes it.
func (s *Session) PopFlash() *Flash {
	f := s.data.Flash
	if f != nil {
		s.data.Flash = nil
		s.dirty = true
	}
	return f
}

// Load returns the session the request's cookie points to, or a new empty
// session when the cookie is missing, invalid or expired.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return m.fresh(), nil
	}

	id, err := m.parseToken(cookie.Value)
	if err != nil {
		return m.fresh(), nil
	}

	data, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return m.fresh(), nil
		}
		return nil, err
	}
	return &Session{id: id, data: data}, nil
}

// Renew throws the session's data away and moves it to a new id. The old
// id is deleted from the store on the next Save.
func (m *Manager) Renew(s *Session) {
	if s.previous == "" {
		s.previous = s.id
	}
	s.id = uuid.NewString()
	s.data = Data{}
	s.dirty = true
}

// Save persists a modified session and writes its cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s.previous != "" {
		if err := m.store.Delete(ctx, s.previous); err != nil {
			return err
		}
		s.previous = ""
	}
	if !s.dirty {
		return nil
	}

	if err := m.store.Save(ctx, s.id, s.data, m.ttl); err != nil {
		return err
	}

	token, err := m.signToken(s.id)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl.Seconds()),
	})
	s.dirty = false
	return nil
}

func (m *Manager) fresh() *Session {
	return &Session{id: uuid.NewString()}
}

func (m *Manager) signToken(id string) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseToken(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("session token has no id")
	}
	return claims.ID, nil
}
