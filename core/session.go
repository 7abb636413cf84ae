package core

import "sync"

// Session is the explicit viewer context passed to every adapter at
// construction, replacing ambient login state. Adapters read it; only the
// presentation layer (via the engine) writes it.
type Session struct {
	mu       sync.RWMutex
	viewerID int64
	nickname string
	token    string
	loggedIn bool
}

// NewSession returns a logged-out session.
func NewSession() *Session {
	return &Session{}
}

// Login stores the viewer identity and bearer token.
func (s *Session) Login(viewerID int64, nickname, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewerID = viewerID
	s.nickname = nickname
	s.token = token
	s.loggedIn = true
}

// Logout clears the viewer identity.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewerID = 0
	s.nickname = ""
	s.token = ""
	s.loggedIn = false
}

// ViewerID returns the logged-in user's id, or 0 when logged out.
func (s *Session) ViewerID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewerID
}

// Nickname returns the logged-in user's display name.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Token returns the bearer token for backend requests.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// LoggedIn reports whether a viewer is logged in.
func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}
