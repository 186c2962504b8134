package models

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestHalfStateTransitions(t *testing.T) {
	request := &MatchRequest{}

	assert.Equal(t, HalfComputed, request.HalfState(ScoreHalf))
	assert.Equal(t, HalfComputed, request.HalfState(MatchHalf))

	request.ScoreHandle = "handle-1"
	assert.Equal(t, HalfDecryptionRequested, request.HalfState(ScoreHalf))
	assert.Equal(t, HalfComputed, request.HalfState(MatchHalf))

	request.ScoreDecrypted = true
	assert.Equal(t, HalfDecrypted, request.HalfState(ScoreHalf))

	request.MatchHandle = "handle-2"
	assert.Equal(t, HalfDecryptionRequested, request.HalfState(MatchHalf))
	request.MatchDecrypted = true
	assert.Equal(t, HalfDecrypted, request.HalfState(MatchHalf))
}

func TestPendingFollowsMatchHalfOnly(t *testing.T) {
	request := &MatchRequest{}
	assert.True(t, request.Pending())

	request.ScoreDecrypted = true
	assert.True(t, request.Pending(), "revealing the score does not conclude the comparison")

	request.MatchDecrypted = true
	assert.False(t, request.Pending())
}

func TestInvolves(t *testing.T) {
	requester := common.HexToAddress("0x01")
	target := common.HexToAddress("0x02")
	request := &MatchRequest{Requester: requester, Target: target}

	assert.True(t, request.Involves(requester))
	assert.True(t, request.Involves(target))
	assert.False(t, request.Involves(common.HexToAddress("0x03")))
}

func TestCloneIsIndependent(t *testing.T) {
	request := &MatchRequest{
		ID:              "r1",
		SimilarityScore: []byte{1, 2, 3},
	}

	clone := request.Clone()
	clone.SimilarityScore[0] = 9
	clone.ScoreDecrypted = true

	assert.Equal(t, byte(1), request.SimilarityScore[0])
	assert.False(t, request.ScoreDecrypted)
}
