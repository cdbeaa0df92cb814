package notify

import (
	"context"
	"sync"
)

// MemoryTokenStore is an in-memory TokenStore for development and tests.
type MemoryTokenStore struct {
	tokens map[string]string // userID -> device token
	mu     sync.RWMutex
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

// SetDeviceToken installs or replaces the user's token, simulating a device
// registration or login.
func (s *MemoryTokenStore) SetDeviceToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		delete(s.tokens, userID)
		return
	}
	s.tokens[userID] = token
}

func (s *MemoryTokenStore) DeviceToken(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[userID], nil
}

func (s *MemoryTokenStore) DeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if token := s.tokens[id]; token != "" {
			out[id] = token
		}
	}
	return out, nil
}

func (s *MemoryTokenStore) ClearDeviceToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Conditional clear: a token installed by a concurrent re-registration
	// no longer matches and must survive.
	if s.tokens[userID] == token {
		delete(s.tokens, userID)
	}
	return nil
}

func (s *MemoryTokenStore) ClearDeviceTokens(ctx context.Context, pairs []TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pairs {
		if s.tokens[p.UserID] == p.Token {
			delete(s.tokens, p.UserID)
		}
	}
	return nil
}
