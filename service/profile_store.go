package service

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fabianferno/blindmatch/models"
)

// ProfileStore owns the registered profiles and the global participant
// index. A profile's interest ciphertext is immutable; the only mutation
// after creation is appending confirmed matches.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[common.Address]*models.Profile
	order    []common.Address
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[common.Address]*models.Profile),
	}
}

// Submit registers a new profile. Fails with ErrAlreadyExists if the
// identity already has one.
func (ps *ProfileStore) Submit(owner common.Address, publicKey, encryptedInterests []byte) (*models.Profile, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.profiles[owner]; exists {
		return nil, ErrAlreadyExists
	}

	profile := &models.Profile{
		Owner:     owner,
		PublicKey: append([]byte(nil), publicKey...),
		Interests: append([]byte(nil), encryptedInterests...),
		Matches:   make([]common.Address, 0),
		CreatedAt: time.Now(),
	}

	ps.profiles[owner] = profile
	ps.order = append(ps.order, owner)

	return profile.Clone(), nil
}

// Delete removes the profile and its identity from the participant
// index. Ledger entries and matches recorded in other profiles that
// reference this identity are untouched.
func (ps *ProfileStore) Delete(owner common.Address) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.profiles[owner]; !exists {
		return ErrNotRegistered
	}

	delete(ps.profiles, owner)
	for i, id := range ps.order {
		if id == owner {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}

	return nil
}

// Get returns a copy of the profile, or ErrNotRegistered.
func (ps *ProfileStore) Get(owner common.Address) (*models.Profile, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	profile, exists := ps.profiles[owner]
	if !exists {
		return nil, ErrNotRegistered
	}
	return profile.Clone(), nil
}

// HasProfile reports whether the identity is registered.
func (ps *ProfileStore) HasProfile(owner common.Address) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.profiles[owner]
	return exists
}

// Matches returns the identity's confirmed match list in confirmation
// order.
func (ps *ProfileStore) Matches(owner common.Address) ([]common.Address, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	profile, exists := ps.profiles[owner]
	if !exists {
		return nil, ErrNotRegistered
	}
	return append([]common.Address(nil), profile.Matches...), nil
}

// MatchCount returns the size of the identity's match list.
func (ps *ProfileStore) MatchCount(owner common.Address) (int, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	profile, exists := ps.profiles[owner]
	if !exists {
		return 0, ErrNotRegistered
	}
	return len(profile.Matches), nil
}

// IsAlreadyMatched reports whether a and b appear on each other's match
// lists. The check is symmetric; membership on either side counts.
func (ps *ProfileStore) IsAlreadyMatched(a, b common.Address) (bool, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	profileA, exists := ps.profiles[a]
	if !exists {
		return false, ErrNotRegistered
	}
	profileB, exists := ps.profiles[b]
	if !exists {
		return false, ErrTargetNotFound
	}

	return profileA.HasMatch(b) || profileB.HasMatch(a), nil
}

// RecordMatch appends each identity to the other's match list, skipping
// sides that already contain the entry or no longer have a live profile.
func (ps *ProfileStore) RecordMatch(a, b common.Address) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if profile, exists := ps.profiles[a]; exists && !profile.HasMatch(b) {
		profile.Matches = append(profile.Matches, b)
	}
	if profile, exists := ps.profiles[b]; exists && !profile.HasMatch(a) {
		profile.Matches = append(profile.Matches, a)
	}
}

// AllParticipants enumerates every registered identity in registration
// order. Callers that expose listings shuffle the result first.
func (ps *ProfileStore) AllParticipants() []common.Address {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return append([]common.Address(nil), ps.order...)
}

// Count returns the number of live profiles.
func (ps *ProfileStore) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.profiles)
}

// Snapshot returns deep copies of every profile, for persistence.
func (ps *ProfileStore) Snapshot() []*models.Profile {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]*models.Profile, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.profiles[id].Clone())
	}
	return out
}

// Restore replaces the store contents with persisted profiles.
func (ps *ProfileStore) Restore(profiles []*models.Profile) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.profiles = make(map[common.Address]*models.Profile, len(profiles))
	ps.order = ps.order[:0]
	for _, p := range profiles {
		ps.profiles[p.Owner] = p.Clone()
		ps.order = append(ps.order, p.Owner)
	}
}
