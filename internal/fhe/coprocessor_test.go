package fhe

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

var (
	testLogger = slog.New(slog.DiscardHandler)
	alice      = mustOwner("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	bob        = mustOwner("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	testKeys   *Keys
)

func mustOwner(s string) diary.Owner {
	o, err := diary.ParseOwner(s)
	if err != nil {
		panic(err)
	}
	return o
}

func keys(t *testing.T) *Keys {
	t.Helper()
	if testKeys == nil {
		k, err := GenerateKeys(12)
		require.NoError(t, err)
		testKeys = k
	}
	return testKeys
}

func newTestCoprocessor(t *testing.T) (*Coprocessor, *auth.Authority, *MemoryStore) {
	t.Helper()
	signer, err := auth.NewProofSigner(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	authority := auth.NewAuthority([]byte("test-secret"), time.Hour)
	store := NewMemoryStore()
	return NewCoprocessor(keys(t), store, signer, authority, testLogger), authority, store
}

func TestCoprocessor_RoundTrip(t *testing.T) {
	cp, authority, store := newTestCoprocessor(t)
	ctx := context.Background()
	token, _, err := authority.Issue(alice, contract, auth.ScopeDecrypt, 0)
	require.NoError(t, err)

	for _, word := range []uint32{0, 1, 0x6948, 0x64636261, 0xFFFFFFFF, 0x00AC82E2} {
		handle, proof, err := cp.Encrypt(ctx, word, alice, contract)
		require.NoError(t, err)
		require.NoError(t, cp.Verifier().Verify(proof, alice, contract, handle))

		got, err := cp.Decrypt(ctx, handle, token)
		require.NoError(t, err)
		assert.Equal(t, word, got)
	}
	assert.Equal(t, 6, store.Len())
}

func TestCoprocessor_HandlesAreUnique(t *testing.T) {
	cp, _, _ := newTestCoprocessor(t)
	ctx := context.Background()

	h1, _, err := cp.Encrypt(ctx, 42, alice, contract)
	require.NoError(t, err)
	h2, _, err := cp.Encrypt(ctx, 42, alice, contract)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "encryption is randomized")
}

func TestCoprocessor_DecryptRequiresOwner(t *testing.T) {
	cp, authority, _ := newTestCoprocessor(t)
	ctx := context.Background()

	handle, _, err := cp.Encrypt(ctx, 7, alice, contract)
	require.NoError(t, err)

	bobToken, _, err := authority.Issue(bob, contract, auth.ScopeDecrypt, 0)
	require.NoError(t, err)
	_, err = cp.Decrypt(ctx, handle, bobToken)
	assert.ErrorIs(t, err, diary.ErrUnauthorized)

	submitToken, _, err := authority.Issue(alice, contract, auth.ScopeSubmit, 0)
	require.NoError(t, err)
	_, err = cp.Decrypt(ctx, handle, submitToken)
	assert.ErrorIs(t, err, diary.ErrUnauthorized)

	otherContract, _, err := authority.Issue(alice, "0xother", auth.ScopeDecrypt, 0)
	require.NoError(t, err)
	_, err = cp.Decrypt(ctx, handle, otherContract)
	assert.ErrorIs(t, err, diary.ErrUnauthorized)
}

func TestCoprocessor_UnknownHandle(t *testing.T) {
	cp, authority, _ := newTestCoprocessor(t)
	token, _, err := authority.Issue(alice, contract, auth.ScopeDecrypt, 0)
	require.NoError(t, err)

	_, err = cp.Decrypt(context.Background(), diary.Handle{0xAB}, token)
	assert.ErrorIs(t, err, diary.ErrHandleNotFound)
}

func TestCoprocessor_EncryptCanceled(t *testing.T) {
	cp, _, _ := newTestCoprocessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := cp.Encrypt(ctx, 1, alice, contract)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadOrGenerateKeys_Persists(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrGenerateKeys(dir, 12, testLogger)
	require.NoError(t, err)
	second, err := LoadOrGenerateKeys(dir, 12, testLogger)
	require.NoError(t, err)

	signer, err := auth.NewProofSignerHex("")
	require.NoError(t, err)
	authority := auth.NewAuthority([]byte("s"), time.Hour)
	store := NewMemoryStore()

	enc := NewCoprocessor(first, store, signer, authority, testLogger)
	dec := NewCoprocessor(second, store, signer, authority, testLogger)

	ctx := context.Background()
	handle, _, err := enc.Encrypt(ctx, 0xCAFEBABE, alice, contract)
	require.NoError(t, err)
	token, _, err := authority.Issue(alice, contract, auth.ScopeDecrypt, 0)
	require.NoError(t, err)

	got, err := dec.Decrypt(ctx, handle, token)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), got)
}

func TestKeys_Info(t *testing.T) {
	info := keys(t).Info()
	assert.Equal(t, 12, info.LogN)
	assert.Equal(t, uint64(PlaintextModulus), info.PlaintextModulus)
	assert.Equal(t, 4096, info.Slots)
}
