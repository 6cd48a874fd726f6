package fhe

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/metrics"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Authorizer verifies decrypt authorizations.
type Authorizer interface {
	Verify(token, contract string, scope auth.Scope) (*auth.Grant, error)
}

// worker bundles the lattigo objects one goroutine needs. They are not safe
// for concurrent use, so each call borrows one from the pool.
type worker struct {
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

// Coprocessor encrypts words into handles and decrypts handles for their
// owners.
type Coprocessor struct {
	keys    *Keys
	store   CiphertextStore
	signer  *auth.ProofSigner
	authz   Authorizer
	logger  *slog.Logger
	workers sync.Pool
}

// NewCoprocessor wires keys, ciphertext storage, proof signing and
// authorization checking together.
func NewCoprocessor(keys *Keys, store CiphertextStore, signer *auth.ProofSigner, authz Authorizer, logger *slog.Logger) *Coprocessor {
	c := &Coprocessor{
		keys:   keys,
		store:  store,
		signer: signer,
		authz:  authz,
		logger: logger,
	}
	c.workers.New = func() any {
		return &worker{
			encoder:   bgv.NewEncoder(keys.Params),
			encryptor: bgv.NewEncryptor(keys.Params, keys.pk),
			decryptor: bgv.NewDecryptor(keys.Params, keys.sk),
		}
	}
	return c
}

// Params returns the public parameters.
func (c *Coprocessor) Params() ParamsInfo { return c.keys.Info() }

// Verifier returns a verifier for the proofs this coprocessor issues.
func (c *Coprocessor) Verifier() *auth.ProofVerifier { return c.signer.Verifier() }

// ProofKey is the public key input proofs are signed with.
func (c *Coprocessor) ProofKey() ed25519.PublicKey { return c.signer.PublicKey() }

// Encrypt encrypts word for owner on contract, stores the ciphertext and
// returns its handle with an input proof.
func (c *Coprocessor) Encrypt(ctx context.Context, word uint32, owner diary.Owner, contract string) (diary.Handle, diary.Proof, error) {
	start := time.Now()
	defer func() { metrics.CipherDuration.WithLabelValues("encrypt").Observe(time.Since(start).Seconds()) }()

	if err := ctx.Err(); err != nil {
		return diary.Handle{}, "", err
	}

	w := c.workers.Get().(*worker)
	ct, err := c.encryptWord(w, word)
	c.workers.Put(w)
	if err != nil {
		metrics.CipherOps.WithLabelValues("encrypt", "error").Inc()
		return diary.Handle{}, "", err
	}

	handle := deriveHandle(contract, owner, ct)
	rec := Record{
		Handle:     handle,
		Owner:      owner,
		Contract:   contract,
		Ciphertext: ct,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.store.Put(ctx, rec); err != nil {
		metrics.CipherOps.WithLabelValues("encrypt", "error").Inc()
		return diary.Handle{}, "", fmt.Errorf("store ciphertext: %w", err)
	}

	proof, err := c.signer.Sign(owner, contract, handle)
	if err != nil {
		metrics.CipherOps.WithLabelValues("encrypt", "error").Inc()
		return diary.Handle{}, "", err
	}
	metrics.CipherOps.WithLabelValues("encrypt", "ok").Inc()
	return handle, proof, nil
}

// Decrypt returns the word behind handle. The authorization must be a
// decrypt grant for the handle's owner and contract.
func (c *Coprocessor) Decrypt(ctx context.Context, handle diary.Handle, authorization string) (uint32, error) {
	start := time.Now()
	defer func() { metrics.CipherDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds()) }()

	rec, err := c.store.Get(ctx, handle)
	if err != nil {
		metrics.CipherOps.WithLabelValues("decrypt", "error").Inc()
		return 0, fmt.Errorf("load %s: %w", handle, err)
	}

	grant, err := c.authz.Verify(authorization, rec.Contract, auth.ScopeDecrypt)
	if err != nil {
		metrics.CipherOps.WithLabelValues("decrypt", "denied").Inc()
		return 0, err
	}
	if grant.Owner != rec.Owner {
		metrics.CipherOps.WithLabelValues("decrypt", "denied").Inc()
		c.logger.Warn("decrypt denied", "handle", handle.String(), "caller", grant.Owner.String())
		return 0, fmt.Errorf("%w: %s is not the owner of %s", diary.ErrUnauthorized, grant.Owner, handle)
	}

	w := c.workers.Get().(*worker)
	word, err := c.decryptWord(w, rec.Ciphertext)
	c.workers.Put(w)
	if err != nil {
		metrics.CipherOps.WithLabelValues("decrypt", "error").Inc()
		return 0, fmt.Errorf("decrypt %s: %w", handle, err)
	}
	metrics.CipherOps.WithLabelValues("decrypt", "ok").Inc()
	return word, nil
}

func (c *Coprocessor) encryptWord(w *worker, word uint32) ([]byte, error) {
	params := c.keys.Params
	vec := make([]uint64, params.MaxSlots())
	vec[0] = uint64(word & 0xFFFF)
	vec[1] = uint64(word >> 16)

	pt := bgv.NewPlaintext(params, params.MaxLevel())
	if err := w.encoder.Encode(vec, pt); err != nil {
		return nil, fmt.Errorf("encode word: %w", err)
	}
	ct, err := w.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt word: %w", err)
	}
	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}
	return data, nil
}

func (c *Coprocessor) decryptWord(w *worker, data []byte) (uint32, error) {
	params := c.keys.Params
	ct := rlwe.NewCiphertext(params, 1)
	if err := ct.UnmarshalBinary(data); err != nil {
		return 0, fmt.Errorf("unmarshal ciphertext: %w", err)
	}
	pt := w.decryptor.DecryptNew(ct)
	vec := make([]uint64, params.MaxSlots())
	if err := w.encoder.Decode(pt, vec); err != nil {
		return 0, fmt.Errorf("decode plaintext: %w", err)
	}
	if vec[0] > 0xFFFF || vec[1] > 0xFFFF {
		return 0, fmt.Errorf("slot value out of range: %d, %d", vec[0], vec[1])
	}
	return uint32(vec[0]) | uint32(vec[1])<<16, nil
}

// deriveHandle hashes the ciphertext together with its binding so the same
// ciphertext under another owner or contract yields another handle.
func deriveHandle(contract string, owner diary.Owner, ct []byte) diary.Handle {
	h := sha256.New()
	h.Write([]byte(contract))
	h.Write(owner[:])
	h.Write(ct)
	var out diary.Handle
	copy(out[:], h.Sum(nil))
	return out
}
