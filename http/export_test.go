package http

// LockConversation exposes the per-conversation turn lock to tests.
func (s *Server) LockConversation(id string) func() { return s.lockConversation(id) }

// TurnLocks returns the number of live turn lock entries.
func (s *Server) TurnLocks() int { return int(s.turns.Len()) }
