package anonymizer

import (
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
)

// Anonymizer shuffles participant listings so that enumeration order
// does not leak registration order.
type Anonymizer struct {
	rng *rand.Rand
}

func New(seed int64) *Anonymizer {
	return &Anonymizer{rng: rand.New(rand.NewSource(seed))}
}

// ShuffleParticipants returns a shuffled copy of the identity list.
func (a *Anonymizer) ShuffleParticipants(ids []common.Address) []common.Address {
	shuffled := make([]common.Address, len(ids))
	copy(shuffled, ids)

	// Fisher-Yates shuffle
	for i := len(shuffled) - 1; i > 0; i-- {
		j := a.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled
}
