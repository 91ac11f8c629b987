package xpost

import "sync"

// Session tracks the initialized flag shared by every client. Embed a
// *Session and call MarkReady only once setup has fully succeeded.
type Session struct {
	network Network

	mu    sync.RWMutex
	ready bool
}

// NewSession returns lifecycle state for network.
func NewSession(network Network) *Session {
	return &Session{network: network}
}

// Network identifies the provider.
func (s *Session) Network() Network { return s.network }

// MarkReady flags the client as initialized.
func (s *Session) MarkReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Reset clears the initialized flag.
func (s *Session) Reset() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

// Initialized reports whether MarkReady was called since the last Reset.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Ready returns a NotInitializedError unless the client is initialized.
func (s *Session) Ready() error {
	if !s.Initialized() {
		return &NotInitializedError{Network: s.network}
	}
	return nil
}
