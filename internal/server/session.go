package server

import "github.com/google/uuid"

// Session is the server-side state bound to one live TCP connection. Username
// is empty until a login succeeds on the connection.
type Session struct {
	ID       string
	Username string
}

// NewSession creates an unbound session with a fresh id for log correlation.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// Bound reports whether a login has succeeded on this connection.
func (s *Session) Bound() bool {
	return s.Username != ""
}
