package models

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// AuditBlock is one entry in the append-only audit chain. Every mutating
// operation on the matching service appends exactly one block; the block
// index doubles as the ledger sequence number used when deriving request
// identifiers.
type AuditBlock struct {
	Index     uint64 `json:"index"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
	PrevHash  []byte `json:"prev_hash"`
	Hash      []byte `json:"hash"`
}

func NewAuditBlock(index uint64, data []byte, prevHash []byte) *AuditBlock {
	block := &AuditBlock{
		Index:     index,
		Timestamp: time.Now().Unix(),
		Data:      data,
		PrevHash:  prevHash,
	}
	block.Hash = block.calculateHash()
	return block
}

func (b *AuditBlock) calculateHash() []byte {
	buffer := new(bytes.Buffer)
	binary.Write(buffer, binary.BigEndian, b.Index)
	binary.Write(buffer, binary.BigEndian, b.Timestamp)
	buffer.Write(b.Data)
	buffer.Write(b.PrevHash)

	return crypto.Keccak256(buffer.Bytes())
}

func (b *AuditBlock) Validate() bool {
	return bytes.Equal(b.calculateHash(), b.Hash)
}

// ValidateChain checks hashes, links and index continuity across the chain.
func ValidateChain(blocks []*AuditBlock) bool {
	if len(blocks) == 0 {
		return true
	}

	if !blocks[0].Validate() {
		return false
	}

	for i := 1; i < len(blocks); i++ {
		current := blocks[i]
		previous := blocks[i-1]

		if !current.Validate() {
			return false
		}
		if !bytes.Equal(current.PrevHash, previous.Hash) {
			return false
		}
		if current.Index != previous.Index+1 {
			return false
		}
		if current.Timestamp < previous.Timestamp {
			return false
		}
	}

	return true
}
