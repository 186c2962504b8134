package encryption

import (
	"errors"
	"math/big"
	"time"
)

// ErrUnsupportedOperation is returned by schemes that lack a given
// homomorphic primitive (e.g. Paillier has no encrypted comparison).
var ErrUnsupportedOperation = errors.New("operation not supported by this scheme")

// HomomorphicScheme defines the interface the matching core consumes.
// Ciphertexts are opaque byte blobs; encrypted integers and encrypted
// booleans share the representation (a boolean is the integer 0 or 1).
type HomomorphicScheme interface {
	// Identity information
	Name() string
	KeySize() int

	// Core operations
	Encrypt(value *big.Int) ([]byte, error)
	Decrypt(ciphertext []byte) (*big.Int, error)
	Add(ciphertext1, ciphertext2 []byte) ([]byte, error)
	And(ciphertext1, ciphertext2 []byte) ([]byte, error)
	// Gte yields an encrypted boolean: 1 iff ciphertext1 >= ciphertext2.
	Gte(ciphertext1, ciphertext2 []byte) ([]byte, error)
	// Select yields whenTrue if cond decrypts to a nonzero value,
	// whenFalse otherwise, without revealing cond.
	Select(cond, whenTrue, whenFalse []byte) ([]byte, error)

	// Analysis helpers
	CiphertextSize(plaintext *big.Int) int
	EstimatedSecurityBits() int
	SupportsComparison() bool
}

// BenchmarkResult stores the performance metrics for a scheme.
type BenchmarkResult struct {
	SchemeName     string
	KeySize        int
	SecurityBits   int
	EncryptionTime int64 // nanoseconds
	DecryptionTime int64 // nanoseconds
	AdditionTime   int64 // nanoseconds
	AndTime        int64 // nanoseconds, 0 if unsupported
	CompareTime    int64 // nanoseconds, 0 if unsupported
	CiphertextSize int   // bytes
}

// Benchmark measures a scheme's primitive operations. Unsupported
// operations are skipped rather than failing the run, so partial schemes
// (additive-only Paillier) can be compared against full ones.
func Benchmark(scheme HomomorphicScheme) (*BenchmarkResult, error) {
	result := &BenchmarkResult{
		SchemeName:   scheme.Name(),
		KeySize:      scheme.KeySize(),
		SecurityBits: scheme.EstimatedSecurityBits(),
	}

	value1 := big.NewInt(0b10110101)
	value2 := big.NewInt(0b01100110)

	start := time.Now()
	ciphertext1, err := scheme.Encrypt(value1)
	if err != nil {
		return nil, err
	}
	result.EncryptionTime = time.Since(start).Nanoseconds()
	result.CiphertextSize = len(ciphertext1)

	ciphertext2, err := scheme.Encrypt(value2)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	if _, err := scheme.Decrypt(ciphertext1); err != nil {
		return nil, err
	}
	result.DecryptionTime = time.Since(start).Nanoseconds()

	start = time.Now()
	if _, err := scheme.Add(ciphertext1, ciphertext2); err != nil {
		return nil, err
	}
	result.AdditionTime = time.Since(start).Nanoseconds()

	start = time.Now()
	if _, err := scheme.And(ciphertext1, ciphertext2); err == nil {
		result.AndTime = time.Since(start).Nanoseconds()
	} else if !errors.Is(err, ErrUnsupportedOperation) {
		return nil, err
	}

	start = time.Now()
	if _, err := scheme.Gte(ciphertext1, ciphertext2); err == nil {
		result.CompareTime = time.Since(start).Nanoseconds()
	} else if !errors.Is(err, ErrUnsupportedOperation) {
		return nil, err
	}

	return result, nil
}
