package service

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabianferno/blindmatch/encryption"
	"github.com/fabianferno/blindmatch/models"
)

func newTestService(t *testing.T, overrides ...func(*Config)) *MatchingService {
	t.Helper()

	cfg := Config{
		StoragePath: t.TempDir(),
		Width:       8,
		Threshold:   3,
	}
	for _, override := range overrides {
		override(&cfg)
	}

	ms, err := NewMatchingService(cfg)
	require.NoError(t, err)
	return ms
}

func registerParticipant(t *testing.T, ms *MatchingService, bits uint64) (common.Address, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ms.Crypto().GenerateKeyPair()
	require.NoError(t, err)
	owner := ms.Crypto().IdentityOf(&key.PublicKey)

	ciphertext, err := ms.EncryptInterests(bits)
	require.NoError(t, err)
	require.NoError(t, ms.SubmitProfile(owner, ethcrypto.FromECDSAPub(&key.PublicKey), ciphertext))

	return owner, key
}

// finalizeHalf drives one half through request + finalize with a
// zero-latency oracle.
func finalizeHalf(t *testing.T, ms *MatchingService, caller common.Address, id string, half models.DecryptionHalf) {
	t.Helper()
	require.NoError(t, ms.RequestDecryption(caller, id, half))
	require.NoError(t, ms.Finalize(caller, id, half))
}

func TestEndToEndMatchFlow(t *testing.T) {
	ms := newTestService(t)

	events, cancel := ms.Events(32)
	defer cancel()

	alice, aliceKey := registerParticipant(t, ms, 0b11111111)
	bob, bobKey := registerParticipant(t, ms, 0b11110000)

	id, err := ms.Compare(alice, bob)
	require.NoError(t, err)

	finalizeHalf(t, ms, alice, id, models.ScoreHalf)
	finalizeHalf(t, ms, bob, id, models.MatchHalf)

	request, err := ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.True(t, request.ScoreDecrypted)
	assert.True(t, request.MatchDecrypted)
	assert.Equal(t, 4, request.DecryptedScore)
	assert.True(t, request.IsMatch)

	aliceSig, err := ms.Crypto().SignMatchesRequest(alice, aliceKey)
	require.NoError(t, err)
	aliceMatches, err := ms.Matches(alice, aliceSig)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{bob}, aliceMatches)

	bobSig, err := ms.Crypto().SignMatchesRequest(bob, bobKey)
	require.NoError(t, err)
	bobMatches, err := ms.Matches(bob, bobSig)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{alice}, bobMatches)

	metrics := ms.Metrics()
	assert.Equal(t, 2, metrics.Submissions.Count)
	assert.Equal(t, 1, metrics.Comparisons.Count)
	assert.Equal(t, 2, metrics.DecryptRequests.Count)
	assert.Equal(t, 2, metrics.Finalizations.Count)
	assert.Equal(t, 1, metrics.MatchesFound)

	expectedOrder := []models.EventType{
		models.EventProfileCreated,
		models.EventProfileCreated,
		models.EventSimilarityCalculated,
		models.EventScoreDecryptionRequested,
		models.EventScoreDecrypted,
		models.EventMatchDecryptionRequested,
		models.EventMatchDecrypted,
		models.EventMatchFound,
	}
	for _, expected := range expectedOrder {
		select {
		case event := <-events:
			assert.Equal(t, expected, event.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", expected)
		}
	}

	assert.True(t, ms.ValidateAuditChain())
	assert.Len(t, ms.AuditChain(), 7)
}

func TestBelowThresholdIsNotAMatch(t *testing.T) {
	ms := newTestService(t)

	alice, _ := registerParticipant(t, ms, 0b00001111)
	bob, _ := registerParticipant(t, ms, 0b00000011)

	id, err := ms.Compare(alice, bob)
	require.NoError(t, err)

	finalizeHalf(t, ms, alice, id, models.ScoreHalf)
	finalizeHalf(t, ms, alice, id, models.MatchHalf)

	request, err := ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Equal(t, 2, request.DecryptedScore)
	assert.False(t, request.IsMatch)

	count, err := ms.MatchCount(alice)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, ms.Metrics().MatchesFound)
}

func TestMatchesRequiresOwnerSignature(t *testing.T) {
	ms := newTestService(t)

	alice, _ := registerParticipant(t, ms, 0b1111)
	_, mallory := registerParticipant(t, ms, 0b1111)

	forged, err := ms.Crypto().SignMatchesRequest(alice, mallory)
	require.NoError(t, err)

	_, err = ms.Matches(alice, forged)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionEndGatesWritesOnly(t *testing.T) {
	ms := newTestService(t)

	alice, _ := registerParticipant(t, ms, 0b11111111)
	bob, bobKey := registerParticipant(t, ms, 0b11100000)

	id, err := ms.Compare(alice, bob)
	require.NoError(t, err)

	ms.EndSession()
	assert.False(t, ms.IsActive())

	ciphertext, err := ms.EncryptInterests(0b1)
	require.NoError(t, err)
	err = ms.SubmitProfile(addr(9), nil, ciphertext)
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = ms.Compare(bob, alice)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = ms.BatchCompare(bob, []common.Address{alice})
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Outstanding work still finalizes after the window closes.
	finalizeHalf(t, ms, alice, id, models.MatchHalf)

	request, err := ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.True(t, request.MatchDecrypted)

	sig, err := ms.Crypto().SignMatchesRequest(bob, bobKey)
	require.NoError(t, err)
	_, err = ms.Matches(bob, sig)
	assert.NoError(t, err, "reads keep working after session end")
}

func TestDeleteProfileAndResubmit(t *testing.T) {
	ms := newTestService(t)

	alice, _ := registerParticipant(t, ms, 0b1111)
	require.NoError(t, ms.DeleteProfile(alice))

	assert.False(t, ms.HasProfile(alice))
	assert.NotContains(t, ms.AllParticipants(), alice)

	ciphertext, err := ms.EncryptInterests(0b0101)
	require.NoError(t, err)
	assert.NoError(t, ms.SubmitProfile(alice, nil, ciphertext))
	assert.True(t, ms.HasProfile(alice))
}

func TestFinalizeNotReadyWithSlowOracle(t *testing.T) {
	scheme, err := encryption.NewTFHEScheme(1024)
	require.NoError(t, err)
	oracle := encryption.NewManualDecryptionOracle(scheme)

	ms := newTestService(t, func(cfg *Config) {
		cfg.Scheme = scheme
		cfg.Oracle = oracle
	})

	alice, _ := registerParticipant(t, ms, 0b1111)
	bob, _ := registerParticipant(t, ms, 0b0111)

	id, err := ms.Compare(alice, bob)
	require.NoError(t, err)
	require.NoError(t, ms.RequestDecryption(alice, id, models.ScoreHalf))

	err = ms.Finalize(alice, id, models.ScoreHalf)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, ms.Metrics().NotReadyOutcomes)
	assert.Equal(t, 0, ms.Metrics().Finalizations.Count)

	request, err := ms.GetMatchRequest(id)
	require.NoError(t, err)
	require.NoError(t, oracle.Complete(request.ScoreHandle))

	require.NoError(t, ms.Finalize(alice, id, models.ScoreHalf))
	request, err = ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Equal(t, 3, request.DecryptedScore)
}

func TestRestartRestoresStateAndDropsHandles(t *testing.T) {
	dir := t.TempDir()

	scheme, err := encryption.NewTFHEScheme(1024)
	require.NoError(t, err)
	oracle := encryption.NewManualDecryptionOracle(scheme)

	first, err := NewMatchingService(Config{
		StoragePath: dir,
		Width:       8,
		Threshold:   3,
		Scheme:      scheme,
		Oracle:      oracle,
	})
	require.NoError(t, err)

	alice, _ := registerParticipant(t, first, 0b11111111)
	bob, _ := registerParticipant(t, first, 0b11110000)

	id, err := first.Compare(alice, bob)
	require.NoError(t, err)
	require.NoError(t, first.RequestDecryption(alice, id, models.ScoreHalf))

	// Same scheme, fresh oracle: the in-flight handle means nothing to
	// the new process.
	second, err := NewMatchingService(Config{
		StoragePath: dir,
		Width:       8,
		Threshold:   3,
		Scheme:      scheme,
	})
	require.NoError(t, err)

	assert.True(t, second.HasProfile(alice))
	assert.True(t, second.HasProfile(bob))

	request, err := second.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Empty(t, request.ScoreHandle)
	assert.Equal(t, models.HalfComputed, request.HalfState(models.ScoreHalf))

	// The half re-enters the cycle from Computed.
	finalizeHalf(t, second, alice, id, models.ScoreHalf)
	request, err = second.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Equal(t, 4, request.DecryptedScore)

	assert.True(t, second.ValidateAuditChain())
}

func TestRestartWithDefaultSchemeKeepsCiphertextsUsable(t *testing.T) {
	dir := t.TempDir()

	// No scheme injected: both processes build theirs from the
	// evaluator key persisted in the storage directory.
	first, err := NewMatchingService(Config{StoragePath: dir, Width: 8, Threshold: 3})
	require.NoError(t, err)

	alice, _ := registerParticipant(t, first, 0b11111111)
	bob, _ := registerParticipant(t, first, 0b11110000)

	second, err := NewMatchingService(Config{StoragePath: dir, Width: 8, Threshold: 3})
	require.NoError(t, err)

	id, err := second.Compare(bob, alice)
	require.NoError(t, err, "restored profiles must stay comparable after a restart")

	finalizeHalf(t, second, bob, id, models.ScoreHalf)
	finalizeHalf(t, second, bob, id, models.MatchHalf)

	request, err := second.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Equal(t, 4, request.DecryptedScore)
	assert.True(t, request.IsMatch)
}

func TestAuditFailureDoesNotFailAppliedDecryption(t *testing.T) {
	dir := t.TempDir()

	ms, err := NewMatchingService(Config{StoragePath: dir, Width: 8, Threshold: 3})
	require.NoError(t, err)

	alice, _ := registerParticipant(t, ms, 0b11111111)
	bob, _ := registerParticipant(t, ms, 0b11110000)

	id, err := ms.Compare(alice, bob)
	require.NoError(t, err)

	// Break the audit chain file so further appends fail with an I/O
	// error while the rest of the storage keeps working.
	chainPath := filepath.Join(dir, "audit_chain.json")
	require.NoError(t, os.Remove(chainPath))
	require.NoError(t, os.Mkdir(chainPath, 0755))

	require.NoError(t, ms.RequestDecryption(alice, id, models.ScoreHalf))
	request, err := ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.Equal(t, models.HalfDecryptionRequested, request.HalfState(models.ScoreHalf))

	require.NoError(t, ms.Finalize(alice, id, models.ScoreHalf))
	request, err = ms.GetMatchRequest(id)
	require.NoError(t, err)
	assert.True(t, request.ScoreDecrypted)
	assert.Equal(t, 4, request.DecryptedScore)
}

func TestAllParticipantsShuffledMembership(t *testing.T) {
	ms := newTestService(t)

	registered := make([]common.Address, 0, 5)
	for i := 0; i < 5; i++ {
		owner, _ := registerParticipant(t, ms, uint64(i+1))
		registered = append(registered, owner)
	}

	listed := ms.AllParticipants()
	assert.ElementsMatch(t, registered, listed)
	assert.Equal(t, 5, ms.TotalParticipants())
}

func TestServiceRejectsAdditiveOnlyScheme(t *testing.T) {
	paillier, err := encryption.NewPaillierScheme(512)
	require.NoError(t, err)

	_, err = NewMatchingService(Config{
		StoragePath: t.TempDir(),
		Scheme:      paillier,
	})
	assert.Error(t, err)
}
