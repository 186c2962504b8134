package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fabianferno/blindmatch/models"
)

// MatchRequestLedger is the append-only record of similarity
// computations. Entries are keyed by request id, kept in creation order
// and never deleted; the only mutations are the decryption orchestrator
// advancing a half's state.
type MatchRequestLedger struct {
	mu    sync.RWMutex
	byID  map[string]*models.MatchRequest
	order []string
}

func NewMatchRequestLedger() *MatchRequestLedger {
	return &MatchRequestLedger{
		byID: make(map[string]*models.MatchRequest),
	}
}

// Append inserts a freshly computed request.
func (l *MatchRequestLedger) Append(request *models.MatchRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID[request.ID] = request.Clone()
	l.order = append(l.order, request.ID)
}

// Get returns a copy of the entry, or ErrNotFound.
func (l *MatchRequestLedger) Get(id string) (*models.MatchRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	request, exists := l.byID[id]
	if !exists {
		return nil, ErrNotFound
	}
	return request.Clone(), nil
}

// Update applies fn to the live entry under the ledger lock. If fn
// returns an error the entry is left as fn left it, so fn must only
// mutate after its own checks pass.
func (l *MatchRequestLedger) Update(id string, fn func(*models.MatchRequest) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	request, exists := l.byID[id]
	if !exists {
		return ErrNotFound
	}
	return fn(request)
}

// HasPending reports whether an undecided comparison exists for the
// ordered (requester, target) pair.
func (l *MatchRequestLedger) HasPending(requester, target common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range l.order {
		request := l.byID[id]
		if request.Requester == requester && request.Target == target && request.Pending() {
			return true
		}
	}
	return false
}

// Len returns the number of ledger entries.
func (l *MatchRequestLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Snapshot returns deep copies of every entry in creation order.
func (l *MatchRequestLedger) Snapshot() []*models.MatchRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.MatchRequest, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id].Clone())
	}
	return out
}

// Restore replaces the ledger contents with persisted entries. In-flight
// oracle handles are dropped: the oracle does not survive a restart, so
// those halves fall back to Computed and callers re-request.
func (l *MatchRequestLedger) Restore(requests []*models.MatchRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID = make(map[string]*models.MatchRequest, len(requests))
	l.order = l.order[:0]
	for _, r := range requests {
		restored := r.Clone()
		if !restored.ScoreDecrypted {
			restored.ScoreHandle = ""
		}
		if !restored.MatchDecrypted {
			restored.MatchHandle = ""
		}
		l.byID[restored.ID] = restored
		l.order = append(l.order, restored.ID)
	}
}
