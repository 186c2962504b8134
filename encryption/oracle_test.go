package encryption

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOracleZeroLatencyReadyImmediately(t *testing.T) {
	scheme := newTestScheme(t)
	oracle := NewDecryptionOracle(scheme, 0)

	ciphertext, err := scheme.Encrypt(big.NewInt(7))
	require.NoError(t, err)

	handle, err := oracle.RequestDecrypt(ciphertext)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	value, ready, err := oracle.PollDecrypt(handle)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, int64(7), value.Int64())
}

func TestOracleHandleConsumedAfterPoll(t *testing.T) {
	scheme := newTestScheme(t)
	oracle := NewDecryptionOracle(scheme, 0)

	ciphertext, err := scheme.Encrypt(big.NewInt(3))
	require.NoError(t, err)
	handle, err := oracle.RequestDecrypt(ciphertext)
	require.NoError(t, err)

	_, ready, err := oracle.PollDecrypt(handle)
	require.NoError(t, err)
	require.True(t, ready)

	_, _, err = oracle.PollDecrypt(handle)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Zero(t, oracle.PendingCount())
}

func TestOracleUnknownHandle(t *testing.T) {
	oracle := NewDecryptionOracle(newTestScheme(t), 0)

	_, _, err := oracle.PollDecrypt("no-such-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)

	err = oracle.Complete("no-such-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestManualOracleWaitsForComplete(t *testing.T) {
	scheme := newTestScheme(t)
	oracle := NewManualDecryptionOracle(scheme)

	ciphertext, err := scheme.Encrypt(big.NewInt(11))
	require.NoError(t, err)
	handle, err := oracle.RequestDecrypt(ciphertext)
	require.NoError(t, err)

	_, ready, err := oracle.PollDecrypt(handle)
	require.NoError(t, err)
	assert.False(t, ready, "manual oracle must not release before Complete")
	assert.Equal(t, 1, oracle.PendingCount())

	require.NoError(t, oracle.Complete(handle))

	value, ready, err := oracle.PollDecrypt(handle)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, int64(11), value.Int64())
}

func TestPollKeepsHandleWhenDecryptFails(t *testing.T) {
	scheme := newTestScheme(t)
	other := newTestScheme(t)
	oracle := NewDecryptionOracle(scheme, 0)

	// A ciphertext this oracle's scheme cannot open.
	ciphertext, err := other.Encrypt(big.NewInt(5))
	require.NoError(t, err)
	handle, err := oracle.RequestDecrypt(ciphertext)
	require.NoError(t, err)

	_, _, err = oracle.PollDecrypt(handle)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownHandle)
	assert.Equal(t, 1, oracle.PendingCount(), "a failed decrypt must not consume the handle")

	// Retrying reports the same failure rather than an unknown handle.
	_, _, err = oracle.PollDecrypt(handle)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownHandle)
}

func TestOracleRejectsEmptyCiphertext(t *testing.T) {
	oracle := NewDecryptionOracle(newTestScheme(t), 0)

	_, err := oracle.RequestDecrypt(nil)
	assert.Error(t, err)
}
