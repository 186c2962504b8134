package encryption

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// CryptoService bundles the non-homomorphic cryptography the service
// needs: participant identities, request-id derivation and owner
// authentication.
type CryptoService struct{}

func NewCryptoService() *CryptoService {
	return &CryptoService{}
}

// GenerateKeyPair generates a new ECDSA key pair for a participant.
func (cs *CryptoService) GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// IdentityOf derives the participant identity from a public key.
func (cs *CryptoService) IdentityOf(publicKey *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*publicKey)
}

// GenerateNonce generates random bytes for uniqueness where needed.
func (cs *CryptoService) GenerateNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	_, err := rand.Read(nonce)
	return nonce, err
}

// Keccak256 computes a Keccak-256 hash over the concatenated inputs.
func (cs *CryptoService) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// RequestID derives a match-request identifier from both parties, the
// creation time and the audit-chain sequence number. The sequence number
// makes repeat comparisons of the same pair distinct; the keccak digest
// keeps identifiers unguessable so a third party cannot walk the ledger
// by enumeration.
func (cs *CryptoService) RequestID(requester, target common.Address, timestamp int64, sequence uint64) string {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[8:], sequence)

	digest := cs.Keccak256(requester.Bytes(), target.Bytes(), buf)
	return hex.EncodeToString(digest)
}

// matchesMessage is what an owner signs to prove control of an identity
// when reading their own match list.
func (cs *CryptoService) matchesMessage(owner common.Address) []byte {
	return cs.Keccak256([]byte("blindmatch/get-matches/"), owner.Bytes())
}

// SignMatchesRequest produces the owner-authentication signature for
// getMatches. Clients hold the private key; the service never does.
func (cs *CryptoService) SignMatchesRequest(owner common.Address, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(cs.matchesMessage(owner), privateKey)
}

// VerifyOwner checks that signature was produced by the key behind owner.
func (cs *CryptoService) VerifyOwner(owner common.Address, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return errors.New("malformed owner signature")
	}

	publicKey, err := crypto.SigToPub(cs.matchesMessage(owner), signature)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}

	if crypto.PubkeyToAddress(*publicKey) != owner {
		return errors.New("signature does not match owner identity")
	}
	return nil
}

// EncryptBitmap encrypts a plaintext interest bitmap through the scheme,
// masking it to width bits first.
func (cs *CryptoService) EncryptBitmap(scheme HomomorphicScheme, bits uint64, width int) ([]byte, error) {
	if width <= 0 || width > 64 {
		return nil, fmt.Errorf("invalid bitmap width %d", width)
	}

	mask := uint64(1)<<uint(width) - 1
	if width == 64 {
		mask = ^uint64(0)
	}

	return scheme.Encrypt(new(big.Int).SetUint64(bits & mask))
}

// ParsePrivateKey parses a hex-encoded ECDSA private key, with or
// without a 0x prefix.
func ParsePrivateKey(keyStr string) (*ecdsa.PrivateKey, error) {
	keyStr = strings.TrimPrefix(keyStr, "0x")

	keyBytes, err := hex.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex string: %w", err)
	}

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}
