package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fabianferno/blindmatch/models"
)

// JSONStore persists the matching service's durable state: profile
// snapshots, the match-request ledger and the append-only audit chain.
// Writes go through a temporary file and an atomic rename so a crash
// never leaves a half-written state file behind.
type JSONStore struct {
	basePath string
	mu       sync.RWMutex
	chain    []*models.AuditBlock
}

func NewJSONStore(basePath string) (*JSONStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	store := &JSONStore{basePath: basePath}

	chain, err := store.loadChainFromFile()
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}
	if !models.ValidateChain(chain) {
		return nil, fmt.Errorf("audit chain failed validation")
	}
	store.chain = chain

	return store, nil
}

func (s *JSONStore) writeFileAtomic(name string, v interface{}) error {
	path := filepath.Join(s.basePath, name)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	return nil
}

func (s *JSONStore) readFile(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}

// SaveProfiles persists the full profile set.
func (s *JSONStore) SaveProfiles(profiles []*models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFileAtomic("profiles.json", profiles)
}

// LoadProfiles restores the persisted profile set; an absent file yields
// an empty slice.
func (s *JSONStore) LoadProfiles() ([]*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var profiles []*models.Profile
	if _, err := s.readFile("profiles.json", &profiles); err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = make([]*models.Profile, 0)
	}
	return profiles, nil
}

// SaveRequests persists the full match-request ledger.
func (s *JSONStore) SaveRequests(requests []*models.MatchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFileAtomic("requests.json", requests)
}

// LoadRequests restores the persisted ledger, in insertion order.
func (s *JSONStore) LoadRequests() ([]*models.MatchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var requests []*models.MatchRequest
	if _, err := s.readFile("requests.json", &requests); err != nil {
		return nil, err
	}
	if requests == nil {
		requests = make([]*models.MatchRequest, 0)
	}
	return requests, nil
}

// AppendAuditBlock chains a new block over the current head and persists
// the chain. It returns the appended block.
func (s *JSONStore) AppendAuditBlock(data []byte) (*models.AuditBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := models.NewAuditBlock(uint64(len(s.chain)), data, s.lastHashLocked())
	chain := append(s.chain, block)

	if err := s.writeFileAtomic("audit_chain.json", chain); err != nil {
		return nil, err
	}

	s.chain = chain
	return block, nil
}

// LoadAuditChain returns a copy of the audit chain.
func (s *JSONStore) LoadAuditChain() []*models.AuditBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := make([]*models.AuditBlock, len(s.chain))
	copy(chain, s.chain)
	return chain
}

// AuditChainLength is the next ledger sequence number.
func (s *JSONStore) AuditChainLength() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.chain))
}

// LastAuditHash returns the chain head hash, or 32 zero bytes for an
// empty chain.
func (s *JSONStore) LastAuditHash() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHashLocked()
}

func (s *JSONStore) lastHashLocked() []byte {
	if len(s.chain) == 0 {
		return make([]byte, 32)
	}
	return s.chain[len(s.chain)-1].Hash
}

func (s *JSONStore) loadChainFromFile() ([]*models.AuditBlock, error) {
	var chain []*models.AuditBlock
	if _, err := s.readFile("audit_chain.json", &chain); err != nil {
		return nil, err
	}
	if chain == nil {
		chain = make([]*models.AuditBlock, 0)
	}
	return chain, nil
}
