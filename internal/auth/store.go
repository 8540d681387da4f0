package auth

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
)

// SubjectStore resolves an API key to the subject it belongs to.
type SubjectStore interface {
	LookupByAPIKey(ctx context.Context, apiKey string) (*Subject, error)
}

// MemoryStore keeps the credential catalogue in process memory. Entries come
// from configuration at startup; there is no runtime mutation beyond Register.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials []Credential
}

// NewMemoryStore seeds the store with the configured credentials. Entries
// without a name or API key are dropped.
func NewMemoryStore(credentials []Credential) *MemoryStore {
	store := &MemoryStore{}
	for _, cred := range credentials {
		store.Register(cred)
	}
	return store
}

// Register adds a credential to the catalogue.
func (s *MemoryStore) Register(cred Credential) {
	if strings.TrimSpace(cred.Name) == "" || strings.TrimSpace(cred.APIKey) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = append(s.credentials, cred)
}

// LookupByAPIKey walks the catalogue with constant-time key comparison.
func (s *MemoryStore) LookupByAPIKey(_ context.Context, apiKey string) (*Subject, error) {
	key := []byte(strings.TrimSpace(apiKey))
	if len(key) == 0 {
		return nil, ErrInvalidCredential
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare([]byte(cred.APIKey), key) == 1 {
			subject := &Subject{
				Name:        cred.Name,
				Permissions: append([]string(nil), cred.Permissions...),
			}
			subject.normalise()
			return subject, nil
		}
	}
	return nil, ErrInvalidCredential
}

var _ SubjectStore = (*MemoryStore)(nil)
