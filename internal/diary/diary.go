// Package diary holds the domain types shared by the ledger, storage and
// client layers.
package diary

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxTextChars is the default cap on characters per entry.
const DefaultMaxTextChars = 512

// Owner is a 20-byte account address.
type Owner [20]byte

// ParseOwner parses a 0x-prefixed hex address. Case is ignored.
func ParseOwner(s string) (Owner, error) {
	var o Owner
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return o, fmt.Errorf("%w: missing 0x prefix", ErrInvalidOwner)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil || len(raw) != len(o) {
		return o, fmt.Errorf("%w: %q", ErrInvalidOwner, s)
	}
	copy(o[:], raw)
	return o, nil
}

// String renders the address in lowercase hex.
func (o Owner) String() string { return "0x" + hex.EncodeToString(o[:]) }

// IsZero reports whether o is the zero address.
func (o Owner) IsZero() bool { return o == Owner{} }

func (o Owner) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Owner) UnmarshalText(b []byte) error {
	p, err := ParseOwner(string(b))
	if err != nil {
		return err
	}
	*o = p
	return nil
}

// Handle is an opaque reference to one encrypted chunk.
type Handle [32]byte

// ParseHandle parses a 0x-prefixed 32-byte hex handle.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("invalid handle %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func (h Handle) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Handle) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Handle) UnmarshalText(b []byte) error {
	p, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = p
	return nil
}

// Proof attests that a handle was produced by the coprocessor for a given
// owner and contract.
type Proof string

// Entry is one immutable diary entry.
type Entry struct {
	AddedID    int64     `json:"added_id"`
	Owner      Owner     `json:"owner"`
	DiaryID    int64     `json:"diary_id"`
	Chunks     []Handle  `json:"chunks"`
	ByteLength int       `json:"byte_length,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Meta returns the entry's metadata.
func (e *Entry) Meta() EntryMeta {
	return EntryMeta{
		Owner:      e.Owner,
		DiaryID:    e.DiaryID,
		Timestamp:  e.CreatedAt,
		Exists:     true,
		ChunkCount: len(e.Chunks),
		ByteLength: e.ByteLength,
	}
}

// EntryMeta describes an entry slot. A slot never written has Exists false
// and a zero Timestamp.
type EntryMeta struct {
	Owner      Owner     `json:"owner"`
	DiaryID    int64     `json:"diary_id"`
	Timestamp  time.Time `json:"timestamp"`
	Exists     bool      `json:"exists"`
	ChunkCount int       `json:"chunk_count"`
	ByteLength int       `json:"byte_length,omitempty"`
}

// CreateEntryRequest is what the ledger hands to storage once proofs are
// verified.
type CreateEntryRequest struct {
	Owner      Owner    `json:"owner"`
	Chunks     []Handle `json:"chunks"`
	ByteLength int      `json:"byte_length,omitempty"`
}

// Created is the payload of the DiaryCreated event.
type Created struct {
	Owner     Owner     `json:"user"`
	DiaryID   int64     `json:"diary_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EventCreated names the event emitted for every new entry.
const EventCreated = "DiaryCreated"

// MarshalJSON renders the timestamp as unix seconds alongside RFC 3339.
func (c Created) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Owner     Owner  `json:"user"`
		DiaryID   int64  `json:"diary_id"`
		Timestamp int64  `json:"timestamp"`
		Time      string `json:"time"`
	}{c.Owner, c.DiaryID, c.Timestamp.Unix(), c.Timestamp.UTC().Format(time.RFC3339)})
}

func (c *Created) UnmarshalJSON(b []byte) error {
	var raw struct {
		Owner     Owner `json:"user"`
		DiaryID   int64 `json:"diary_id"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Created{Owner: raw.Owner, DiaryID: raw.DiaryID, Timestamp: time.Unix(raw.Timestamp, 0).UTC()}
	return nil
}
