package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DecryptionHalf selects which half of a match request a decryption
// operation targets. The score and the match flag are revealed
// independently, in either order.
type DecryptionHalf int

const (
	ScoreHalf DecryptionHalf = iota
	MatchHalf
)

func (h DecryptionHalf) String() string {
	switch h {
	case ScoreHalf:
		return "score"
	case MatchHalf:
		return "match"
	default:
		return "unknown"
	}
}

// HalfState is the per-half decryption state machine. Transitions only
// move forward: Computed -> DecryptionRequested -> Decrypted.
type HalfState int

const (
	HalfComputed HalfState = iota
	HalfDecryptionRequested
	HalfDecrypted
)

// MatchRequest is one ledger entry, created when a similarity comparison
// runs and mutated only by the decryption orchestrator. Entries are never
// deleted.
type MatchRequest struct {
	ID        string         `json:"id"`
	Requester common.Address `json:"requester"`
	Target    common.Address `json:"target"`

	// Ciphertexts produced by the similarity engine.
	SimilarityScore  []byte `json:"similarity_score"`
	IsMatchEncrypted []byte `json:"is_match_encrypted"`

	// Oracle handles, set when decryption of a half has been requested.
	// Not meaningful across restarts: in-flight oracle work is lost and
	// the half falls back to Computed.
	ScoreHandle string `json:"score_handle,omitempty"`
	MatchHandle string `json:"match_handle,omitempty"`

	// One-way reveal flags and the revealed plaintexts, valid only once
	// the corresponding flag is true.
	ScoreDecrypted bool `json:"score_decrypted"`
	MatchDecrypted bool `json:"match_decrypted"`
	DecryptedScore int  `json:"decrypted_score"`
	IsMatch        bool `json:"is_match"`

	// Processed is set as soon as the homomorphic computation finished;
	// with a synchronous engine that is immediately at creation.
	Processed bool      `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// HalfState derives the state machine position for one half.
func (r *MatchRequest) HalfState(half DecryptionHalf) HalfState {
	switch half {
	case MatchHalf:
		if r.MatchDecrypted {
			return HalfDecrypted
		}
		if r.MatchHandle != "" {
			return HalfDecryptionRequested
		}
	default:
		if r.ScoreDecrypted {
			return HalfDecrypted
		}
		if r.ScoreHandle != "" {
			return HalfDecryptionRequested
		}
	}
	return HalfComputed
}

// Involves reports whether id is a party to this request.
func (r *MatchRequest) Involves(id common.Address) bool {
	return r.Requester == id || r.Target == id
}

// Pending reports whether the comparison is still undecided. A comparison
// concludes when its match flag is revealed; until then it blocks a new
// comparison for the same ordered pair.
func (r *MatchRequest) Pending() bool {
	return !r.MatchDecrypted
}

// Clone returns a deep copy safe to hand out of the ledger.
func (r *MatchRequest) Clone() *MatchRequest {
	cp := *r
	cp.SimilarityScore = append([]byte(nil), r.SimilarityScore...)
	cp.IsMatchEncrypted = append([]byte(nil), r.IsMatchEncrypted...)
	return &cp
}
