package encryption

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/roasbeef/go-go-gadget-paillier"
)

// PaillierScheme adapts the Paillier cryptosystem to the
// HomomorphicScheme interface. Paillier is additively homomorphic only:
// And, Gte and Select return ErrUnsupportedOperation, so the similarity
// engine rejects it at construction. It remains selectable for the
// benchmark surface and as a reference point for ciphertext sizes.
type PaillierScheme struct {
	keySize    int
	privateKey *paillier.PrivateKey
	publicKey  *paillier.PublicKey
}

// NewPaillierScheme generates a fresh keypair of the given size.
func NewPaillierScheme(keySize int) (*PaillierScheme, error) {
	privateKey, err := paillier.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Paillier key: %w", err)
	}

	return &PaillierScheme{
		keySize:    keySize,
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
	}, nil
}

func (p *PaillierScheme) Name() string {
	return fmt.Sprintf("Paillier-%d", p.keySize)
}

func (p *PaillierScheme) KeySize() int {
	return p.keySize
}

func (p *PaillierScheme) Encrypt(value *big.Int) ([]byte, error) {
	if p.publicKey == nil {
		return nil, fmt.Errorf("public key not set")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative plaintexts are not representable")
	}

	// FillBytes so that zero still encodes as one byte.
	return paillier.Encrypt(p.publicKey, value.FillBytes(make([]byte, 1+len(value.Bytes()))))
}

func (p *PaillierScheme) Decrypt(ciphertext []byte) (*big.Int, error) {
	if p.privateKey == nil {
		return nil, fmt.Errorf("private key not set")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}

	plaintext, err := paillier.Decrypt(p.privateKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return new(big.Int).SetBytes(plaintext), nil
}

func (p *PaillierScheme) Add(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	if p.publicKey == nil {
		return nil, fmt.Errorf("public key not set")
	}

	return paillier.AddCipher(p.publicKey, ciphertext1, ciphertext2), nil
}

func (p *PaillierScheme) And(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	return nil, fmt.Errorf("paillier: homomorphic AND: %w", ErrUnsupportedOperation)
}

func (p *PaillierScheme) Gte(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	return nil, fmt.Errorf("paillier: homomorphic comparison: %w", ErrUnsupportedOperation)
}

func (p *PaillierScheme) Select(cond, whenTrue, whenFalse []byte) ([]byte, error) {
	return nil, fmt.Errorf("paillier: homomorphic selection: %w", ErrUnsupportedOperation)
}

func (p *PaillierScheme) CiphertextSize(plaintext *big.Int) int {
	// Ciphertext size is approximately the size of N^2.
	return (p.keySize * 2) / 8
}

func (p *PaillierScheme) EstimatedSecurityBits() int {
	// NIST-style estimates for factoring-based schemes.
	switch p.keySize {
	case 1024:
		return 80
	case 2048:
		return 112
	case 3072:
		return 128
	case 4096:
		return 152
	default:
		return p.keySize / 20
	}
}

func (p *PaillierScheme) SupportsComparison() bool {
	return false
}
