package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMismatch      = errors.New("password does not match")
	ErrMalformedHash = errors.New("invalid hash format")
)

// Algorithm names a password hashing family.
type Algorithm string

const (
	AlgorithmUnknown  Algorithm = ""
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Hasher turns raw passwords into salted, self-describing hash strings.
// Implementations are safe for concurrent use.
type Hasher interface {
	Algorithm() Algorithm

	// Hash returns a freshly salted encoding of password.
	Hash(password string) (string, error)

	// Verify returns nil when password matches encoded, ErrMismatch when it
	// does not and ErrMalformedHash (wrapped) when encoded cannot be parsed.
	Verify(password, encoded string) error

	// NeedsRehash reports whether encoded was produced with different
	// parameters than this hasher would use today.
	NeedsRehash(encoded string) bool

	// MaxPasswordBytes is the longest input the algorithm accepts, or 0 when
	// there is no limit.
	MaxPasswordBytes() int
}

// Identify inspects an encoded hash and reports which family produced it.
func Identify(encoded string) Algorithm {
	switch {
	case strings.HasPrefix(encoded, "$2a$"),
		strings.HasPrefix(encoded, "$2b$"),
		strings.HasPrefix(encoded, "$2y$"):
		return AlgorithmBcrypt
	case strings.HasPrefix(encoded, "$argon2id$"):
		return AlgorithmArgon2id
	default:
		return AlgorithmUnknown
	}
}

// DefaultBcryptCost matches the work factor the user model has always used.
const DefaultBcryptCost = 10

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates cost against the bcrypt limits.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

func (h *BcryptHasher) Algorithm() Algorithm  { return AlgorithmBcrypt }
func (h *BcryptHasher) Cost() int             { return h.cost }
func (h *BcryptHasher) MaxPasswordBytes() int { return 72 }

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(password, encoded string) error {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
}

func (h *BcryptHasher) NeedsRehash(encoded string) bool {
	if Identify(encoded) != AlgorithmBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Argon2Params configures Argon2id hashing.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultArgon2Params is the OWASP minimum profile (19 MiB, t=2, p=1).
var DefaultArgon2Params = Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// MaxArgon2Memory bounds the memory cost (KiB) accepted from a stored hash.
// Anything larger is treated as corrupt rather than allocated.
const MaxArgon2Memory = 4 * 1024 * 1024

// Argon2idHasher produces PHC-format Argon2id hashes. The pepper, when set,
// is appended to every password before hashing and verification.
type Argon2idHasher struct {
	params Argon2Params
	pepper string
}

func NewArgon2idHasher(params Argon2Params, pepper string) (*Argon2idHasher, error) {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, errors.New("argon2id parameters must be non-zero")
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultArgon2Params.KeyLength
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultArgon2Params.SaltLength
	}
	return &Argon2idHasher{params: params, pepper: pepper}, nil
}

func (h *Argon2idHasher) Algorithm() Algorithm  { return AlgorithmArgon2id }
func (h *Argon2idHasher) MaxPasswordBytes() int { return 0 }

// Hash generates a PHC-format Argon2id hash string including salt and parameters.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := h.params
	hash := argon2.IDKey([]byte(password+h.pepper), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify compares a plaintext password against a PHC-style Argon2id hash.
func (h *Argon2idHasher) Verify(password, encoded string) error {
	phc, err := parsePHC(encoded)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(password+h.pepper),
		phc.salt,
		phc.params.Iterations,
		phc.params.Memory,
		phc.params.Parallelism,
		uint32(len(phc.hash)), // #nosec G115 - bounded by the decoded hash length
	)

	if subtle.ConstantTimeCompare(computed, phc.hash) == 1 {
		return nil
	}
	return ErrMismatch
}

func (h *Argon2idHasher) NeedsRehash(encoded string) bool {
	phc, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return phc.params.Memory != p.Memory ||
		phc.params.Iterations != p.Iterations ||
		phc.params.Parallelism != p.Parallelism ||
		uint32(len(phc.hash)) != p.KeyLength // #nosec G115
}

type phcHash struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

// parsePHC splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash into its parts.
func parsePHC(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return phcHash{}, fmt.Errorf("%w: expected 6 parts", ErrMalformedHash)
	}
	if parts[0] != "" || parts[1] != "argon2id" {
		return phcHash{}, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phcHash{}, fmt.Errorf("%w: wrong version", ErrMalformedHash)
	}

	var out phcHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&out.params.Memory, &out.params.Iterations, &out.params.Parallelism); err != nil {
		return phcHash{}, fmt.Errorf("%w: failed to parse parameters: %w", ErrMalformedHash, err)
	}
	// argon2.IDKey panics on zero rounds or parallelism
	switch p := out.params; {
	case p.Iterations == 0, p.Parallelism == 0:
		return phcHash{}, fmt.Errorf("%w: zero cost parameter", ErrMalformedHash)
	case p.Memory == 0, p.Memory > MaxArgon2Memory:
		return phcHash{}, fmt.Errorf("%w: memory cost out of range", ErrMalformedHash)
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return phcHash{}, fmt.Errorf("%w: failed to decode salt: %w", ErrMalformedHash, err)
	}
	if out.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return phcHash{}, fmt.Errorf("%w: failed to decode hash: %w", ErrMalformedHash, err)
	}
	if len(out.hash) == 0 {
		return phcHash{}, fmt.Errorf("%w: empty hash", ErrMalformedHash)
	}
	return out, nil
}
