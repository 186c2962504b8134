package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, payloads ...string) []*AuditBlock {
	t.Helper()

	chain := make([]*AuditBlock, 0, len(payloads))
	prevHash := make([]byte, 32)
	for i, payload := range payloads {
		block := NewAuditBlock(uint64(i), []byte(payload), prevHash)
		chain = append(chain, block)
		prevHash = block.Hash
	}
	return chain
}

func TestValidateChain(t *testing.T) {
	assert.True(t, ValidateChain(nil))
	assert.True(t, ValidateChain(buildChain(t, "a")))
	assert.True(t, ValidateChain(buildChain(t, "a", "b", "c")))
}

func TestValidateChainDetectsTampering(t *testing.T) {
	chain := buildChain(t, "a", "b", "c")
	require.True(t, ValidateChain(chain))

	chain[1].Data = []byte("forged")
	assert.False(t, ValidateChain(chain))
}

func TestValidateChainDetectsBrokenLink(t *testing.T) {
	chain := buildChain(t, "a", "b")
	chain[1].PrevHash = make([]byte, 32)
	chain[1].Hash = chain[1].calculateHash()
	assert.False(t, ValidateChain(chain))
}

func TestValidateChainDetectsIndexGap(t *testing.T) {
	chain := buildChain(t, "a", "b")
	chain[1].Index = 5
	chain[1].Hash = chain[1].calculateHash()
	assert.False(t, ValidateChain(chain))
}
