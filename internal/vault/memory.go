package vault

import (
	"context"
	"sort"
	"sync"

	"github.com/devplane/devplane/internal/common/errors"
)

type memoryEntry struct {
	cred       Credential
	ciphertext []byte
	nonce      []byte
}

// MemoryStore is the in-memory credential store for tests and
// storage=memory deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]*memoryEntry // userID -> provider -> entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]*memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, cred *Credential, ciphertext, nonce []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byProvider, ok := s.entries[cred.UserID]
	if !ok {
		byProvider = make(map[string]*memoryEntry)
		s.entries[cred.UserID] = byProvider
	}
	c := *cred
	byProvider[cred.Provider] = &memoryEntry{
		cred:       c,
		ciphertext: append([]byte(nil), ciphertext...),
		nonce:      append([]byte(nil), nonce...),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, provider string) (*Credential, []byte, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[userID][provider]
	if !ok {
		return nil, nil, nil, errors.NotFound("credential", userID+"/"+provider)
	}
	c := entry.cred
	return &c, append([]byte(nil), entry.ciphertext...), append([]byte(nil), entry.nonce...), nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []*Credential
	for _, entry := range s.entries[userID] {
		c := entry.cred
		creds = append(creds, &c)
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].Provider < creds[j].Provider })
	return creds, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[userID][provider]; !ok {
		return errors.NotFound("credential", userID+"/"+provider)
	}
	delete(s.entries[userID], provider)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
