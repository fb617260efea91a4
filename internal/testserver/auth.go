package testserver

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"callprobe/pkg/types"
)

// Principal is whoever a bearer token was issued to
type Principal struct {
	Role    types.Role
	UserID  string
	StaffID string
	Email   string
	Name    string
	OrgID   string
}

// tokenStore issues opaque tokens. The real service signs JWTs; tests only
// need tokens to be unguessable and resolvable.
type tokenStore struct {
	mu       sync.RWMutex
	password string
	tokens   map[string]Principal
	refresh  map[string]Principal
}

func newTokenStore(staffPassword string) *tokenStore {
	return &tokenStore{
		password: staffPassword,
		tokens:   make(map[string]Principal),
		refresh:  make(map[string]Principal),
	}
}

// LoginStaff checks the shared staff password and issues an access and a
// refresh token. The staff id is the email's local part.
func (s *tokenStore) LoginStaff(email, password string) (string, string, Principal, error) {
	if !strings.Contains(email, "@") || password != s.password {
		return "", "", Principal{}, ErrBadCredentials
	}
	staffID := types.StaffIDFromEmail(email)
	p := Principal{
		Role:    types.RoleStaff,
		UserID:  staffID,
		StaffID: staffID,
		Email:   email,
		Name:    staffID,
		OrgID:   types.DefaultOrgID,
	}
	token, refresh := s.issue(p, true)
	return token, refresh, p, nil
}

// LoginClient issues a token for an unauthenticated caller
func (s *tokenStore) LoginClient(username string) (string, Principal) {
	p := Principal{
		Role:   types.RoleClient,
		UserID: username,
		Name:   username,
		OrgID:  types.DefaultOrgID,
	}
	token, _ := s.issue(p, false)
	return token, p
}

// Refresh rotates a refresh token into a new token pair
func (s *tokenStore) Refresh(refreshToken string) (string, string, error) {
	s.mu.Lock()
	p, ok := s.refresh[refreshToken]
	if ok {
		delete(s.refresh, refreshToken)
	}
	s.mu.Unlock()
	if !ok {
		return "", "", ErrUnknownRefreshToken
	}
	token, refresh := s.issue(p, true)
	return token, refresh, nil
}

func (s *tokenStore) Resolve(token string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.tokens[token]
	if !ok {
		return Principal{}, ErrUnknownToken
	}
	return p, nil
}

func (s *tokenStore) issue(p Principal, withRefresh bool) (string, string) {
	token := uuid.NewString()
	var refresh string
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = p
	if withRefresh {
		refresh = uuid.NewString()
		s.refresh[refresh] = p
	}
	return token, refresh
}
