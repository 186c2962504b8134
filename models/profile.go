package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Profile is one participant's registered state. Interests is an opaque
// ciphertext of the fixed-width interest bitmap; nobody, including the
// service operator, can read it without going through the decryption
// oracle. The ciphertext is immutable once set: the only way to change
// interests is to delete the profile and register again.
type Profile struct {
	Owner     common.Address   `json:"owner"`
	PublicKey []byte           `json:"public_key"`
	Interests []byte           `json:"interests"`
	Matches   []common.Address `json:"matches"`
	CreatedAt time.Time        `json:"created_at"`
}

// HasMatch reports whether other is already on this profile's match list.
func (p *Profile) HasMatch(other common.Address) bool {
	for _, m := range p.Matches {
		if m == other {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the store.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.PublicKey = append([]byte(nil), p.PublicKey...)
	cp.Interests = append([]byte(nil), p.Interests...)
	cp.Matches = append([]common.Address(nil), p.Matches...)
	return &cp
}
