// Package chaincode is the travel diary contract as Hyperledger Fabric
// chaincode. Entries live in world state under composite keys and creation
// emits a DiaryCreated chaincode event.
package chaincode

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
)

const (
	configKey     = "config"
	entryKeyType  = "entry~owner~id"
	countKeyType  = "count~owner"
	ownerAttrName = "diary.owner"
)

var errNotInitialized = errors.New("ledger not initialized")

type ledgerConfig struct {
	ProofKey string `json:"proof_key"`
	Contract string `json:"contract"`
}

type storedEntry struct {
	Owner      diary.Owner    `json:"owner"`
	DiaryID    int64          `json:"diary_id"`
	Chunks     []diary.Handle `json:"chunks"`
	ByteLength int            `json:"byte_length,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	TxID       string         `json:"tx_id"`
}

// EntryInfo is what GetDiaryEntry returns.
type EntryInfo struct {
	Timestamp  int64 `json:"timestamp"`
	Exists     bool  `json:"exists"`
	ChunkCount int   `json:"chunk_count"`
	ByteLength int   `json:"byte_length,omitempty"`
}

// TravelDiary is the contract. Only transaction methods are exported.
type TravelDiary struct {
	contractapi.Contract
}

// InitLedger records the key input proofs verify against and the contract
// address they are bound to. It can only run once.
func (t *TravelDiary) InitLedger(ctx contractapi.TransactionContextInterface, proofKeyHex, contract string) error {
	existing, err := ctx.GetStub().GetState(configKey)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if existing != nil {
		return errors.New("ledger already initialized")
	}
	if _, err := auth.ParseProofVerifierHex(proofKeyHex); err != nil {
		return fmt.Errorf("proof key: %w", err)
	}
	if contract == "" {
		return errors.New("contract address is required")
	}
	b, err := json.Marshal(ledgerConfig{ProofKey: proofKeyHex, Contract: contract})
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(configKey, b)
}

// CreateDiary appends an entry for the submitting identity. handlesJSON and
// proofsJSON are JSON arrays of equal length. It returns the new diary id.
func (t *TravelDiary) CreateDiary(ctx contractapi.TransactionContextInterface, handlesJSON, proofsJSON string, byteLength int) (int64, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	caller, err := callerOwner(ctx)
	if err != nil {
		return 0, err
	}

	var handles []diary.Handle
	if err := json.Unmarshal([]byte(handlesJSON), &handles); err != nil {
		return 0, fmt.Errorf("handles: %w", err)
	}
	var proofs []diary.Proof
	if err := json.Unmarshal([]byte(proofsJSON), &proofs); err != nil {
		return 0, fmt.Errorf("proofs: %w", err)
	}
	if len(handles) != len(proofs) {
		return 0, fmt.Errorf("%w: %d chunks, %d proofs", diary.ErrChunkProofMismatch, len(handles), len(proofs))
	}
	if len(handles) == 0 {
		return 0, diary.ErrNoChunks
	}
	if byteLength < 0 || (byteLength > 0 && codec.ChunkCount(byteLength) != len(handles)) {
		return 0, fmt.Errorf("%w: %d bytes in %d chunks", codec.ErrByteLength, byteLength, len(handles))
	}

	verifier, err := auth.ParseProofVerifierHex(cfg.ProofKey)
	if err != nil {
		return 0, fmt.Errorf("proof key: %w", err)
	}
	for i, h := range handles {
		if err := verifier.Verify(proofs[i], caller, cfg.Contract, h); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	count, err := diaryCount(ctx, caller)
	if err != nil {
		return 0, err
	}
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return 0, fmt.Errorf("tx timestamp: %w", err)
	}
	created := ts.AsTime().UTC()

	e := storedEntry{
		Owner:      caller,
		DiaryID:    count,
		Chunks:     handles,
		ByteLength: byteLength,
		Timestamp:  created.Unix(),
		TxID:       ctx.GetStub().GetTxID(),
	}
	if err := putEntry(ctx, e); err != nil {
		return 0, err
	}
	if err := putCount(ctx, caller, count+1); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(diary.Created{Owner: caller, DiaryID: e.DiaryID, Timestamp: time.Unix(e.Timestamp, 0).UTC()})
	if err != nil {
		return 0, err
	}
	if err := ctx.GetStub().SetEvent(diary.EventCreated, payload); err != nil {
		return 0, fmt.Errorf("set event: %w", err)
	}
	return e.DiaryID, nil
}

// GetDiaryCount returns how many entries owner has created.
func (t *TravelDiary) GetDiaryCount(ctx contractapi.TransactionContextInterface, owner string) (int64, error) {
	o, err := diary.ParseOwner(owner)
	if err != nil {
		return 0, err
	}
	return diaryCount(ctx, o)
}

// GetDiaryEntry returns entry metadata. A missing entry reports exists false
// and zero values rather than an error.
func (t *TravelDiary) GetDiaryEntry(ctx contractapi.TransactionContextInterface, owner string, diaryID int64) (*EntryInfo, error) {
	e, err := lookupEntry(ctx, owner, diaryID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return &EntryInfo{}, nil
	}
	return &EntryInfo{
		Timestamp:  e.Timestamp,
		Exists:     true,
		ChunkCount: len(e.Chunks),
		ByteLength: e.ByteLength,
	}, nil
}

// GetChunkCount returns the number of chunks, 0 for a missing entry.
func (t *TravelDiary) GetChunkCount(ctx contractapi.TransactionContextInterface, owner string, diaryID int64) (int, error) {
	e, err := lookupEntry(ctx, owner, diaryID)
	if err != nil || e == nil {
		return 0, err
	}
	return len(e.Chunks), nil
}

// GetEncryptedTextChunk returns one handle as 0x hex.
func (t *TravelDiary) GetEncryptedTextChunk(ctx contractapi.TransactionContextInterface, owner string, diaryID int64, index int) (string, error) {
	e, err := lookupEntry(ctx, owner, diaryID)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", fmt.Errorf("%w: %s #%d", diary.ErrEntryNotFound, owner, diaryID)
	}
	if index < 0 || index >= len(e.Chunks) {
		return "", fmt.Errorf("%w: %d of %d", diary.ErrChunkOutOfRange, index, len(e.Chunks))
	}
	return e.Chunks[index].String(), nil
}

// callerOwner maps the submitting identity to an owner. An enrolled
// diary.owner attribute wins; otherwise the address is derived from the
// identity's unique ID.
func callerOwner(ctx contractapi.TransactionContextInterface) (diary.Owner, error) {
	id := ctx.GetClientIdentity()
	if id == nil {
		return diary.Owner{}, fmt.Errorf("%w: no client identity", diary.ErrUnauthorized)
	}
	if v, found, err := id.GetAttributeValue(ownerAttrName); err == nil && found {
		return diary.ParseOwner(v)
	}
	uid, err := id.GetID()
	if err != nil {
		return diary.Owner{}, fmt.Errorf("client id: %w", err)
	}
	sum := sha256.Sum256([]byte(uid))
	var o diary.Owner
	copy(o[:], sum[:len(o)])
	return o, nil
}

func loadConfig(ctx contractapi.TransactionContextInterface) (*ledgerConfig, error) {
	b, err := ctx.GetStub().GetState(configKey)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if b == nil {
		return nil, errNotInitialized
	}
	var cfg ledgerConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func diaryCount(ctx contractapi.TransactionContextInterface, owner diary.Owner) (int64, error) {
	key, err := ctx.GetStub().CreateCompositeKey(countKeyType, []string{owner.String()})
	if err != nil {
		return 0, err
	}
	b, err := ctx.GetStub().GetState(key)
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	if b == nil {
		return 0, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func putCount(ctx contractapi.TransactionContextInterface, owner diary.Owner, n int64) error {
	key, err := ctx.GetStub().CreateCompositeKey(countKeyType, []string{owner.String()})
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(key, []byte(strconv.FormatInt(n, 10)))
}

func entryKey(ctx contractapi.TransactionContextInterface, owner diary.Owner, diaryID int64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(entryKeyType, []string{owner.String(), strconv.FormatInt(diaryID, 10)})
}

func putEntry(ctx contractapi.TransactionContextInterface, e storedEntry) error {
	key, err := entryKey(ctx, e.Owner, e.DiaryID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(key, b)
}

// lookupEntry returns nil, nil when the entry does not exist.
func lookupEntry(ctx contractapi.TransactionContextInterface, owner string, diaryID int64) (*storedEntry, error) {
	o, err := diary.ParseOwner(owner)
	if err != nil {
		return nil, err
	}
	if diaryID < 0 {
		return nil, nil
	}
	key, err := entryKey(ctx, o, diaryID)
	if err != nil {
		return nil, err
	}
	b, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	var e storedEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}
