package encryption

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownHandle is returned when polling a handle the oracle has never
// issued, or one that was already consumed.
var ErrUnknownHandle = errors.New("unknown decryption handle")

// DecryptionOracle models the asynchronous decryption capability: a
// caller requests decryption of a ciphertext and later polls for the
// plaintext. The real network round-trip is simulated with a latency
// window; push-style oracle callbacks are adapted into the same poll
// surface via Complete.
type DecryptionOracle struct {
	scheme  HomomorphicScheme
	latency time.Duration
	manual  bool

	mu      sync.Mutex
	pending map[string]*pendingDecryption
}

type pendingDecryption struct {
	ciphertext []byte
	readyAt    time.Time
	released   bool
}

// NewDecryptionOracle creates an oracle over the given scheme. A zero
// latency makes every request ready on the first poll.
func NewDecryptionOracle(scheme HomomorphicScheme, latency time.Duration) *DecryptionOracle {
	return &DecryptionOracle{
		scheme:  scheme,
		latency: latency,
		pending: make(map[string]*pendingDecryption),
	}
}

// NewManualDecryptionOracle creates an oracle whose requests only become
// ready through an explicit Complete call. Used to exercise the NotReady
// path deterministically.
func NewManualDecryptionOracle(scheme HomomorphicScheme) *DecryptionOracle {
	oracle := NewDecryptionOracle(scheme, 0)
	oracle.manual = true
	return oracle
}

// RequestDecrypt registers a ciphertext for decryption and returns the
// handle to poll. The call never blocks on the decryption itself.
func (o *DecryptionOracle) RequestDecrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", fmt.Errorf("cannot request decryption of an empty ciphertext")
	}

	handle := uuid.New().String()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[handle] = &pendingDecryption{
		ciphertext: append([]byte(nil), ciphertext...),
		readyAt:    time.Now().Add(o.latency),
	}

	return handle, nil
}

// PollDecrypt reports whether the plaintext for handle is available. When
// it is, the plaintext is returned and the handle is consumed; a handle
// is good for exactly one successful poll. A failed decrypt leaves the
// handle pending, so the failure is retryable instead of wedging the
// caller's state machine.
func (o *DecryptionOracle) PollDecrypt(handle string) (*big.Int, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.pending[handle]
	if !ok {
		return nil, false, ErrUnknownHandle
	}

	ready := entry.released || (!o.manual && !time.Now().Before(entry.readyAt))
	if !ready {
		return nil, false, nil
	}

	value, err := o.scheme.Decrypt(entry.ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("oracle decryption failed: %w", err)
	}

	delete(o.pending, handle)
	return value, true, nil
}

// Complete marks a pending request ready immediately. This is the
// adapter for push-style oracles: their callback lands here and the
// plaintext is then consumed through the ordinary poll path.
func (o *DecryptionOracle) Complete(handle string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.pending[handle]
	if !ok {
		return ErrUnknownHandle
	}

	entry.released = true
	return nil
}

// PendingCount reports how many requests are still awaiting a poll.
func (o *DecryptionOracle) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
