package chaincode

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

// identity is a client identity with a fixed ID and optional attributes.
type identity struct {
	id    string
	attrs map[string]string
}

func (i identity) GetID() (string, error)    { return i.id, nil }
func (i identity) GetMSPID() (string, error) { return "Org1MSP", nil }
func (i identity) GetAttributeValue(name string) (string, bool, error) {
	v, ok := i.attrs[name]
	return v, ok, nil
}
func (i identity) AssertAttributeValue(name, value string) error {
	if i.attrs[name] != value {
		return errors.New("attribute mismatch")
	}
	return nil
}
func (i identity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

type harness struct {
	t      *testing.T
	stub   *shimtest.MockStub
	cc     *TravelDiary
	signer *auth.ProofSigner
	tx     int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := auth.NewProofSigner(bytes.Repeat([]byte{6}, 32))
	require.NoError(t, err)
	h := &harness{t: t, stub: shimtest.NewMockStub("diary", nil), cc: &TravelDiary{}, signer: signer}
	require.NoError(t, h.cc.InitLedger(h.ctx(identity{id: "admin"}), hex.EncodeToString(signer.PublicKey()), contract))
	return h
}

// ctx starts a new mock transaction submitted by id.
func (h *harness) ctx(id identity) *contractapi.TransactionContext {
	h.tx++
	h.stub.MockTransactionStart(fmt.Sprintf("tx%d", h.tx))
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(h.stub)
	ctx.SetClientIdentity(id)
	return ctx
}

func (h *harness) ownerOf(id identity) diary.Owner {
	o, err := callerOwner(h.ctx(id))
	require.NoError(h.t, err)
	return o
}

// prove returns handles and proofs for owner as JSON arguments.
func (h *harness) prove(owner diary.Owner, n int, seed byte) (string, string) {
	hs := make([]diary.Handle, n)
	ps := make([]diary.Proof, n)
	for i := range hs {
		hs[i] = diary.Handle{seed, byte(i)}
		p, err := h.signer.Sign(owner, contract, hs[i])
		require.NoError(h.t, err)
		ps[i] = p
	}
	hj, _ := json.Marshal(hs)
	pj, _ := json.Marshal(ps)
	return string(hj), string(pj)
}

var (
	alice = identity{id: "x509::CN=alice::CN=ca"}
	bob   = identity{id: "x509::CN=bob::CN=ca"}
)

func TestCreateDiary(t *testing.T) {
	h := newHarness(t)
	owner := h.ownerOf(alice)
	hs, ps := h.prove(owner, 10, 1)

	id, err := h.cc.CreateDiary(h.ctx(alice), hs, ps, 38)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	ev := <-h.stub.ChaincodeEventsChannel
	assert.Equal(t, diary.EventCreated, ev.EventName)
	var payload struct {
		User    string `json:"user"`
		DiaryID int64  `json:"diary_id"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, owner.String(), payload.User)

	ctx := h.ctx(bob)
	count, err := h.cc.GetDiaryCount(ctx, owner.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	info, err := h.cc.GetDiaryEntry(ctx, owner.String(), 0)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Positive(t, info.Timestamp)
	assert.Equal(t, 10, info.ChunkCount)
	assert.Equal(t, 38, info.ByteLength)

	n, err := h.cc.GetChunkCount(ctx, owner.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	var want []diary.Handle
	require.NoError(t, json.Unmarshal([]byte(hs), &want))
	got, err := h.cc.GetEncryptedTextChunk(ctx, owner.String(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, want[4].String(), got)
}

func TestCreateDiary_DenseIDsPerIdentity(t *testing.T) {
	h := newHarness(t)
	a, b := h.ownerOf(alice), h.ownerOf(bob)

	for i := 0; i < 3; i++ {
		hs, ps := h.prove(a, 2, byte(i))
		id, err := h.cc.CreateDiary(h.ctx(alice), hs, ps, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}
	hs, ps := h.prove(b, 1, 9)
	id, err := h.cc.CreateDiary(h.ctx(bob), hs, ps, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	ctx := h.ctx(alice)
	ac, _ := h.cc.GetDiaryCount(ctx, a.String())
	bc, _ := h.cc.GetDiaryCount(ctx, b.String())
	assert.Equal(t, int64(3), ac)
	assert.Equal(t, int64(1), bc)
}

func TestCreateDiary_Rejections(t *testing.T) {
	h := newHarness(t)
	owner := h.ownerOf(alice)
	hs, ps := h.prove(owner, 3, 1)
	_, twoProofs := h.prove(owner, 2, 1)

	tests := []struct {
		name    string
		id      identity
		handles string
		proofs  string
		bytes   int
		want    error
	}{
		{"mismatched lengths", alice, hs, twoProofs, 0, diary.ErrChunkProofMismatch},
		{"no chunks", alice, "[]", "[]", 0, diary.ErrNoChunks},
		{"other identity", bob, hs, ps, 0, diary.ErrInvalidProof},
		{"byte length", alice, hs, ps, 20, codec.ErrByteLength},
		{"byte length one word short", alice, hs, ps, 8, codec.ErrByteLength},
		{"negative byte length", alice, hs, ps, -1, codec.ErrByteLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.cc.CreateDiary(h.ctx(tt.id), tt.handles, tt.proofs, tt.bytes)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.cc.CreateDiary(h.ctx(alice), "not json", ps, 0)
	assert.Error(t, err)

	count, err := h.cc.GetDiaryCount(h.ctx(alice), owner.String())
	require.NoError(t, err)
	assert.Zero(t, count, "rejected writes leave no entry")
}

func TestCreateDiary_OwnerAttribute(t *testing.T) {
	h := newHarness(t)
	enrolled := identity{id: "x509::CN=carol", attrs: map[string]string{ownerAttrName: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}}
	owner, err := diary.ParseOwner("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	require.NoError(t, err)
	assert.Equal(t, owner, h.ownerOf(enrolled))

	hs, ps := h.prove(owner, 1, 1)
	_, err = h.cc.CreateDiary(h.ctx(enrolled), hs, ps, 0)
	require.NoError(t, err)
}

func TestReads_MissingEntry(t *testing.T) {
	h := newHarness(t)
	owner := h.ownerOf(alice).String()
	ctx := h.ctx(alice)

	info, err := h.cc.GetDiaryEntry(ctx, owner, 7)
	require.NoError(t, err)
	assert.Equal(t, EntryInfo{}, *info)

	n, err := h.cc.GetChunkCount(ctx, owner, 7)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.cc.GetEncryptedTextChunk(ctx, owner, 7, 0)
	assert.ErrorIs(t, err, diary.ErrEntryNotFound)

	_, err = h.cc.GetDiaryCount(ctx, "alice")
	assert.ErrorIs(t, err, diary.ErrInvalidOwner)
}

func TestGetEncryptedTextChunk_OutOfRange(t *testing.T) {
	h := newHarness(t)
	owner := h.ownerOf(alice)
	hs, ps := h.prove(owner, 2, 1)
	_, err := h.cc.CreateDiary(h.ctx(alice), hs, ps, 0)
	require.NoError(t, err)

	for _, idx := range []int{2, -1} {
		_, err = h.cc.GetEncryptedTextChunk(h.ctx(alice), owner.String(), 0, idx)
		assert.ErrorIs(t, err, diary.ErrChunkOutOfRange)
	}
}

func TestInitLedger(t *testing.T) {
	h := newHarness(t)
	err := h.cc.InitLedger(h.ctx(alice), hex.EncodeToString(h.signer.PublicKey()), contract)
	assert.Error(t, err, "second init is rejected")

	fresh := &harness{t: t, stub: shimtest.NewMockStub("fresh", nil), cc: &TravelDiary{}, signer: h.signer}
	assert.Error(t, fresh.cc.InitLedger(fresh.ctx(alice), "zz", contract))

	hs, ps := fresh.prove(fresh.ownerOf(alice), 1, 1)
	_, err = fresh.cc.CreateDiary(fresh.ctx(alice), hs, ps, 0)
	assert.ErrorIs(t, err, errNotInitialized)
}
