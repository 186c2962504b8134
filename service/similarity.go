package service

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fabianferno/blindmatch/encryption"
	"github.com/fabianferno/blindmatch/models"
)

// MaxBatchTargets bounds the homomorphic work a single batch comparison
// may trigger.
const MaxBatchTargets = 10

// SimilarityEngine computes encrypted similarity between two interest
// bitmaps. Everything stays ciphertext from the AND of the bitmaps to
// the threshold comparison; the engine itself never sees a plaintext
// score or match outcome.
type SimilarityEngine struct {
	scheme    encryption.HomomorphicScheme
	crypto    *encryption.CryptoService
	profiles  *ProfileStore
	ledger    *MatchRequestLedger
	events    *EventBus
	sequence  func() uint64
	width     int
	threshold int
}

func NewSimilarityEngine(
	scheme encryption.HomomorphicScheme,
	crypto *encryption.CryptoService,
	profiles *ProfileStore,
	ledger *MatchRequestLedger,
	events *EventBus,
	sequence func() uint64,
	width, threshold int,
) (*SimilarityEngine, error) {
	if !scheme.SupportsComparison() {
		return nil, fmt.Errorf("scheme %s lacks homomorphic comparison", scheme.Name())
	}
	if width < 1 || width > 32 {
		return nil, fmt.Errorf("bitmap width must be in [1, 32], got %d", width)
	}
	if threshold < 1 || threshold > width {
		return nil, fmt.Errorf("threshold must be in [1, %d], got %d", width, threshold)
	}

	return &SimilarityEngine{
		scheme:    scheme,
		crypto:    crypto,
		profiles:  profiles,
		ledger:    ledger,
		events:    events,
		sequence:  sequence,
		width:     width,
		threshold: threshold,
	}, nil
}

func (se *SimilarityEngine) Width() int     { return se.width }
func (se *SimilarityEngine) Threshold() int { return se.threshold }

// validate runs the comparison preconditions in their fixed order and
// returns both encrypted bitmaps on success.
func (se *SimilarityEngine) validate(requester, target common.Address) (requesterBits, targetBits []byte, err error) {
	requesterProfile, err := se.profiles.Get(requester)
	if err != nil {
		return nil, nil, ErrNotRegistered
	}

	targetProfile, err := se.profiles.Get(target)
	if err != nil {
		return nil, nil, ErrTargetNotFound
	}

	if requester == target {
		return nil, nil, ErrSelfMatchForbidden
	}

	matched, err := se.profiles.IsAlreadyMatched(requester, target)
	if err != nil {
		return nil, nil, err
	}
	if matched {
		return nil, nil, ErrAlreadyMatched
	}

	if se.ledger.HasPending(requester, target) {
		return nil, nil, ErrComparisonPending
	}

	return requesterProfile.Interests, targetProfile.Interests, nil
}

// Compare runs the full protocol for one pair and returns the new
// request id.
func (se *SimilarityEngine) Compare(requester, target common.Address) (string, error) {
	requesterBits, targetBits, err := se.validate(requester, target)
	if err != nil {
		return "", err
	}
	return se.execute(requester, target, requesterBits, targetBits)
}

// BatchCompare applies Compare to each target in list order. The batch
// is all-or-nothing: every target is validated up front and a failure
// anywhere leaves the ledger untouched.
func (se *SimilarityEngine) BatchCompare(requester common.Address, targets []common.Address) ([]string, error) {
	if len(targets) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(targets) > MaxBatchTargets {
		return nil, ErrBatchTooLarge
	}

	bitmaps := make([][2][]byte, 0, len(targets))
	seen := make(map[common.Address]bool, len(targets))
	for _, target := range targets {
		// A repeated target would collide with the pending entry its
		// first occurrence is about to create.
		if seen[target] {
			return nil, ErrComparisonPending
		}
		seen[target] = true

		requesterBits, targetBits, err := se.validate(requester, target)
		if err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, [2][]byte{requesterBits, targetBits})
	}

	ids := make([]string, 0, len(targets))
	for i, target := range targets {
		id, err := se.execute(requester, target, bitmaps[i][0], bitmaps[i][1])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// execute performs the homomorphic pipeline and persists the ledger
// entry. Preconditions are assumed already checked.
func (se *SimilarityEngine) execute(requester, target common.Address, requesterBits, targetBits []byte) (string, error) {
	intersection, err := se.scheme.And(requesterBits, targetBits)
	if err != nil {
		return "", fmt.Errorf("failed to intersect bitmaps: %w", err)
	}

	score, err := se.popcount(intersection)
	if err != nil {
		return "", fmt.Errorf("failed to count common interests: %w", err)
	}

	encThreshold, err := se.scheme.Encrypt(big.NewInt(int64(se.threshold)))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt threshold: %w", err)
	}

	isMatch, err := se.scheme.Gte(score, encThreshold)
	if err != nil {
		return "", fmt.Errorf("failed to compare against threshold: %w", err)
	}

	now := time.Now()
	id := se.crypto.RequestID(requester, target, now.UnixNano(), se.sequence())

	se.ledger.Append(&models.MatchRequest{
		ID:               id,
		Requester:        requester,
		Target:           target,
		SimilarityScore:  score,
		IsMatchEncrypted: isMatch,
		Processed:        true,
		Timestamp:        now,
	})

	se.events.Publish(models.Event{
		Type:      models.EventSimilarityCalculated,
		Requester: requester,
		Target:    target,
		RequestID: id,
	})

	return id, nil
}

// popcount counts set bits of the encrypted intersection one position at
// a time: isolate bit i with an AND mask, compare the isolated bit
// against the mask to get an encrypted "bit set" boolean, select an
// encrypted 1 or 0 and accumulate. The homomorphic primitive set has no
// native popcount, so this fixed-width loop is the protocol's intended
// algorithm; width is kept small precisely because of it.
func (se *SimilarityEngine) popcount(intersection []byte) ([]byte, error) {
	encZero, err := se.scheme.Encrypt(big.NewInt(0))
	if err != nil {
		return nil, err
	}
	encOne, err := se.scheme.Encrypt(big.NewInt(1))
	if err != nil {
		return nil, err
	}

	score := encZero
	for i := 0; i < se.width; i++ {
		mask, err := se.scheme.Encrypt(new(big.Int).Lsh(big.NewInt(1), uint(i)))
		if err != nil {
			return nil, err
		}

		bit, err := se.scheme.And(intersection, mask)
		if err != nil {
			return nil, err
		}

		// bit is either 0 or the mask value itself.
		isSet, err := se.scheme.Gte(bit, mask)
		if err != nil {
			return nil, err
		}

		contribution, err := se.scheme.Select(isSet, encOne, encZero)
		if err != nil {
			return nil, err
		}

		score, err = se.scheme.Add(score, contribution)
		if err != nil {
			return nil, err
		}
	}

	return score, nil
}
