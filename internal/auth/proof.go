// Package auth issues and verifies the tokens that bind ciphertext handles
// and permissions to an owner and a contract.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ryanbastic/go-diary/internal/diary"
)

type proofClaims struct {
	jwt.RegisteredClaims
	Handle string `json:"handle"`
}

// ProofSigner issues input proofs for freshly encrypted handles.
type ProofSigner struct {
	key ed25519.PrivateKey
}

// NewProofSigner derives a signer from a 32-byte seed.
func NewProofSigner(seed []byte) (*ProofSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("proof seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &ProofSigner{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// NewProofSignerHex is NewProofSigner for a hex-encoded seed. An empty seed
// generates a random key.
func NewProofSignerHex(seedHex string) (*ProofSigner, error) {
	if seedHex == "" {
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate proof seed: %w", err)
		}
		return NewProofSigner(seed)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode proof seed: %w", err)
	}
	return NewProofSigner(seed)
}

// PublicKey returns the key proofs verify against.
func (s *ProofSigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Verifier returns a verifier for this signer's proofs.
func (s *ProofSigner) Verifier() *ProofVerifier {
	return NewProofVerifier(s.PublicKey())
}

// Sign binds handle to owner and contract.
func (s *ProofSigner) Sign(owner diary.Owner, contract string, handle diary.Handle) (diary.Proof, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, proofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  owner.String(),
			Audience: jwt.ClaimStrings{contract},
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Handle: handle.String(),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return diary.Proof(signed), nil
}

// ProofVerifier checks input proofs. It holds only the public key.
type ProofVerifier struct {
	key ed25519.PublicKey
}

func NewProofVerifier(key ed25519.PublicKey) *ProofVerifier {
	return &ProofVerifier{key: key}
}

// ParseProofVerifierHex builds a verifier from a hex-encoded public key.
func ParseProofVerifierHex(keyHex string) (*ProofVerifier, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode proof key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("proof key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return NewProofVerifier(ed25519.PublicKey(raw)), nil
}

// Verify returns nil when proof was issued for exactly this owner, contract
// and handle. Every failure wraps diary.ErrInvalidProof.
func (v *ProofVerifier) Verify(proof diary.Proof, owner diary.Owner, contract string, handle diary.Handle) error {
	claims := &proofClaims{}
	_, err := jwt.ParseWithClaims(string(proof), claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithSubject(owner.String()),
		jwt.WithAudience(contract),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", diary.ErrInvalidProof, err)
	}
	if claims.Handle != handle.String() {
		return fmt.Errorf("%w: %w", diary.ErrInvalidProof, errHandleMismatch)
	}
	return nil
}

var errHandleMismatch = errors.New("proof is for a different handle")
