package service

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fabianferno/blindmatch/encryption"
	"github.com/fabianferno/blindmatch/models"
)

// DecryptionOrchestrator drives each ledger entry's two reveal halves
// through Computed -> DecryptionRequested -> Decrypted. The halves are
// independent state machines: either may be requested and finalized
// first, or alone. No transition ever regresses.
type DecryptionOrchestrator struct {
	oracle   *encryption.DecryptionOracle
	profiles *ProfileStore
	ledger   *MatchRequestLedger
	events   *EventBus
	width    int
}

func NewDecryptionOrchestrator(
	oracle *encryption.DecryptionOracle,
	profiles *ProfileStore,
	ledger *MatchRequestLedger,
	events *EventBus,
	width int,
) *DecryptionOrchestrator {
	return &DecryptionOrchestrator{
		oracle:   oracle,
		profiles: profiles,
		ledger:   ledger,
		events:   events,
		width:    width,
	}
}

// RequestDecryption asks the oracle to decrypt one half. Valid only from
// the Computed state; the caller must be a party to the request. The
// call registers the work and returns without waiting for the oracle.
func (o *DecryptionOrchestrator) RequestDecryption(caller common.Address, requestID string, half models.DecryptionHalf) error {
	return o.ledger.Update(requestID, func(request *models.MatchRequest) error {
		if !request.Involves(caller) {
			return ErrUnauthorized
		}

		switch request.HalfState(half) {
		case models.HalfDecrypted:
			return ErrAlreadyDecrypted
		case models.HalfDecryptionRequested:
			return ErrAlreadyRequested
		}

		ciphertext := request.SimilarityScore
		if half == models.MatchHalf {
			ciphertext = request.IsMatchEncrypted
		}

		handle, err := o.oracle.RequestDecrypt(ciphertext)
		if err != nil {
			return fmt.Errorf("failed to request decryption: %w", err)
		}

		if half == models.MatchHalf {
			request.MatchHandle = handle
			o.events.Publish(models.Event{
				Type:      models.EventMatchDecryptionRequested,
				RequestID: requestID,
			})
		} else {
			request.ScoreHandle = handle
			o.events.Publish(models.Event{
				Type:      models.EventScoreDecryptionRequested,
				RequestID: requestID,
			})
		}

		return nil
	})
}

// Finalize polls the oracle for one half's plaintext. ErrNotReady is the
// expected answer while the oracle is still working; callers poll again.
// On readiness the plaintext is stored, the half becomes terminal and a
// newly revealed positive match is recorded on both profiles.
func (o *DecryptionOrchestrator) Finalize(caller common.Address, requestID string, half models.DecryptionHalf) error {
	var matchedRequester, matchedTarget common.Address
	matchFound := false

	err := o.ledger.Update(requestID, func(request *models.MatchRequest) error {
		if !request.Involves(caller) {
			return ErrUnauthorized
		}

		switch request.HalfState(half) {
		case models.HalfDecrypted:
			return ErrAlreadyDecrypted
		case models.HalfComputed:
			return ErrNotReady
		}

		handle := request.ScoreHandle
		if half == models.MatchHalf {
			handle = request.MatchHandle
		}

		value, ready, err := o.oracle.PollDecrypt(handle)
		if err != nil {
			return fmt.Errorf("oracle poll failed: %w", err)
		}
		if !ready {
			return ErrNotReady
		}

		if half == models.MatchHalf {
			request.IsMatch = value.Sign() != 0
			request.MatchDecrypted = true
			o.events.Publish(models.Event{
				Type:      models.EventMatchDecrypted,
				RequestID: requestID,
				IsMatch:   request.IsMatch,
			})

			if request.IsMatch {
				matchFound = true
				matchedRequester = request.Requester
				matchedTarget = request.Target
			}
			return nil
		}

		score := int(value.Int64())
		if score < 0 || score > o.width {
			return fmt.Errorf("revealed score %d outside [0, %d]", score, o.width)
		}
		request.DecryptedScore = score
		request.ScoreDecrypted = true
		o.events.Publish(models.Event{
			Type:      models.EventScoreDecrypted,
			RequestID: requestID,
			Score:     score,
		})
		return nil
	})
	if err != nil {
		return err
	}

	// The half is terminal before the match lists mutate, so a repeated
	// finalize cannot append twice.
	if matchFound {
		o.profiles.RecordMatch(matchedRequester, matchedTarget)
		o.events.Publish(models.Event{
			Type:      models.EventMatchFound,
			Requester: matchedRequester,
			Target:    matchedTarget,
		})
	}

	return nil
}
