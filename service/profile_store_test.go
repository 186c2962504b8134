package service

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func TestSubmitAndDuplicate(t *testing.T) {
	store := NewProfileStore()

	profile, err := store.Submit(addr(1), []byte("pub"), []byte("enc"))
	require.NoError(t, err)
	assert.Equal(t, addr(1), profile.Owner)
	assert.True(t, store.HasProfile(addr(1)))
	assert.Equal(t, 1, store.Count())

	_, err = store.Submit(addr(1), []byte("pub2"), []byte("enc2"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 1, store.Count())
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	store := NewProfileStore()

	_, err := store.Submit(addr(1), nil, []byte("a"))
	require.NoError(t, err)
	_, err = store.Submit(addr(2), nil, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(addr(1)))

	assert.False(t, store.HasProfile(addr(1)))
	assert.Equal(t, []common.Address{addr(2)}, store.AllParticipants())

	_, err = store.Get(addr(1))
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, store.Delete(addr(1)), ErrNotRegistered)
}

func TestDeleteKeepsCounterpartyMatches(t *testing.T) {
	store := NewProfileStore()

	_, err := store.Submit(addr(1), nil, []byte("a"))
	require.NoError(t, err)
	_, err = store.Submit(addr(2), nil, []byte("b"))
	require.NoError(t, err)

	store.RecordMatch(addr(1), addr(2))
	require.NoError(t, store.Delete(addr(1)))

	matches, err := store.Matches(addr(2))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr(1)}, matches, "match entries referencing a deleted profile survive")
}

func TestRecordMatchIsIdempotentAndSymmetric(t *testing.T) {
	store := NewProfileStore()

	_, err := store.Submit(addr(1), nil, []byte("a"))
	require.NoError(t, err)
	_, err = store.Submit(addr(2), nil, []byte("b"))
	require.NoError(t, err)

	store.RecordMatch(addr(1), addr(2))
	store.RecordMatch(addr(1), addr(2))
	store.RecordMatch(addr(2), addr(1))

	matchesA, err := store.Matches(addr(1))
	require.NoError(t, err)
	matchesB, err := store.Matches(addr(2))
	require.NoError(t, err)

	assert.Equal(t, []common.Address{addr(2)}, matchesA)
	assert.Equal(t, []common.Address{addr(1)}, matchesB)

	matched, err := store.IsAlreadyMatched(addr(1), addr(2))
	require.NoError(t, err)
	assert.True(t, matched)
	matched, err = store.IsAlreadyMatched(addr(2), addr(1))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRecordMatchSkipsDeadProfiles(t *testing.T) {
	store := NewProfileStore()

	_, err := store.Submit(addr(1), nil, []byte("a"))
	require.NoError(t, err)

	store.RecordMatch(addr(1), addr(2))

	matches, err := store.Matches(addr(1))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr(2)}, matches)

	count, err := store.MatchCount(addr(1))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	store := NewProfileStore()

	_, err := store.Submit(addr(3), []byte("pk"), []byte("enc"))
	require.NoError(t, err)
	_, err = store.Submit(addr(1), nil, []byte("enc2"))
	require.NoError(t, err)
	store.RecordMatch(addr(3), addr(1))

	restored := NewProfileStore()
	restored.Restore(store.Snapshot())

	assert.Equal(t, store.AllParticipants(), restored.AllParticipants())
	matches, err := restored.Matches(addr(3))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr(1)}, matches)
}
