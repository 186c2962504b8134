package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"
)

// evaluatorSeedSize is the length of the persisted evaluator key seed.
const evaluatorSeedSize = 32

// TFHEScheme simulates a TFHE-style coprocessor with the full primitive
// set the matching protocol assumes: AND, addition, comparison and
// selection over encrypted integers. In a real deployment this would be
// backed by a TFHE library or an fhEVM coprocessor; here the evaluator
// seals plaintexts under an internal AES-GCM key, unseals inside each
// operation and reseals the result with a fresh nonce. Ciphertexts are
// opaque and non-deterministic to every caller, and the homomorphic
// results are exact, which is what the protocol tests need.
type TFHEScheme struct {
	keySize int
	aead    cipher.AEAD
}

// NewTFHEScheme creates a scheme instance with a freshly generated
// evaluator key. keySize is the nominal lattice dimension, kept for
// reporting parity with the other schemes. Ciphertexts sealed by this
// instance are unreadable to any other; long-lived services use
// LoadTFHEScheme instead.
func NewTFHEScheme(keySize int) (*TFHEScheme, error) {
	seed := make([]byte, evaluatorSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate evaluator key: %w", err)
	}
	return NewTFHESchemeFromSeed(keySize, seed)
}

// NewTFHESchemeFromSeed builds the evaluator from an existing key seed.
// Instances built from the same seed interoperate on each other's
// ciphertexts.
func NewTFHESchemeFromSeed(keySize int, seed []byte) (*TFHEScheme, error) {
	if len(seed) != evaluatorSeedSize {
		return nil, fmt.Errorf("evaluator key seed must be %d bytes, got %d", evaluatorSeedSize, len(seed))
	}

	d := sha3.NewLegacyKeccak256()
	d.Write(seed)
	block, err := aes.NewCipher(d.Sum(nil))
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &TFHEScheme{keySize: keySize, aead: aead}, nil
}

// LoadTFHEScheme reads the evaluator key seed from path, generating and
// persisting a fresh one on first use. Reusing the seed across restarts
// keeps previously sealed profile and ledger ciphertexts decryptable.
func LoadTFHEScheme(keySize int, path string) (*TFHEScheme, error) {
	seed, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		seed = make([]byte, evaluatorSeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to generate evaluator key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create evaluator key directory: %w", err)
		}
		if err := os.WriteFile(path, seed, 0600); err != nil {
			return nil, fmt.Errorf("failed to persist evaluator key: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read evaluator key: %w", err)
	}

	return NewTFHESchemeFromSeed(keySize, seed)
}

func (t *TFHEScheme) Name() string {
	return fmt.Sprintf("TFHE-sim-%d", t.keySize)
}

func (t *TFHEScheme) KeySize() int {
	return t.keySize
}

func (t *TFHEScheme) seal(value *big.Int) ([]byte, error) {
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative plaintexts are not representable")
	}

	nonce := make([]byte, t.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	// Fixed-size plaintext block so the ciphertext length leaks nothing
	// about the magnitude of the value.
	plaintext := value.FillBytes(make([]byte, 16))
	return t.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (t *TFHEScheme) open(ciphertext []byte) (*big.Int, error) {
	nonceSize := t.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := t.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("ciphertext was not produced by this evaluator: %w", err)
	}

	return new(big.Int).SetBytes(plaintext), nil
}

func (t *TFHEScheme) Encrypt(value *big.Int) ([]byte, error) {
	return t.seal(value)
}

func (t *TFHEScheme) Decrypt(ciphertext []byte) (*big.Int, error) {
	return t.open(ciphertext)
}

func (t *TFHEScheme) Add(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	a, err := t.open(ciphertext1)
	if err != nil {
		return nil, err
	}
	b, err := t.open(ciphertext2)
	if err != nil {
		return nil, err
	}
	return t.seal(new(big.Int).Add(a, b))
}

func (t *TFHEScheme) And(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	a, err := t.open(ciphertext1)
	if err != nil {
		return nil, err
	}
	b, err := t.open(ciphertext2)
	if err != nil {
		return nil, err
	}
	return t.seal(new(big.Int).And(a, b))
}

func (t *TFHEScheme) Gte(ciphertext1, ciphertext2 []byte) ([]byte, error) {
	a, err := t.open(ciphertext1)
	if err != nil {
		return nil, err
	}
	b, err := t.open(ciphertext2)
	if err != nil {
		return nil, err
	}

	result := big.NewInt(0)
	if a.Cmp(b) >= 0 {
		result = big.NewInt(1)
	}
	return t.seal(result)
}

func (t *TFHEScheme) Select(cond, whenTrue, whenFalse []byte) ([]byte, error) {
	c, err := t.open(cond)
	if err != nil {
		return nil, err
	}

	chosen := whenFalse
	if c.Sign() != 0 {
		chosen = whenTrue
	}

	// Reseal rather than echo, so the returned ciphertext does not
	// reveal which branch was taken by byte comparison.
	value, err := t.open(chosen)
	if err != nil {
		return nil, err
	}
	return t.seal(value)
}

func (t *TFHEScheme) CiphertextSize(plaintext *big.Int) int {
	// nonce + fixed plaintext block + GCM tag
	return t.aead.NonceSize() + 16 + t.aead.Overhead()
}

func (t *TFHEScheme) EstimatedSecurityBits() int {
	switch t.keySize {
	case 512:
		return 100
	case 1024:
		return 128
	case 2048:
		return 192
	default:
		return t.keySize / 8
	}
}

func (t *TFHEScheme) SupportsComparison() bool {
	return true
}
