package diary

import (
	"errors"

	"github.com/ryanbastic/go-diary/internal/codec"
)

var (
	// ErrEmptyInput is returned when the text is empty after trimming whitespace.
	ErrEmptyInput = errors.New("text is empty")
	// ErrInputTooLarge is returned when the text exceeds the character limit.
	ErrInputTooLarge = errors.New("text exceeds character limit")
	// ErrDecode is returned when decrypted words do not form valid UTF-8.
	ErrDecode = codec.ErrDecode
	// ErrChunkProofMismatch is returned when handles and proofs differ in count.
	ErrChunkProofMismatch = errors.New("chunk and proof counts differ")
	// ErrNoChunks is returned when an entry would have no chunks.
	ErrNoChunks = errors.New("entry has no chunks")
	// ErrInvalidProof is returned when an input proof does not verify.
	ErrInvalidProof = errors.New("invalid input proof")
	// ErrUnauthorized is returned when an authorization is missing, expired
	// or bound to a different owner, contract or scope.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEntryNotFound is returned when an entry slot was never written.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrChunkOutOfRange is returned when a chunk index is past the end.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	// ErrHandleNotFound is returned when the coprocessor has no ciphertext for
	// a handle.
	ErrHandleNotFound = errors.New("handle not found")
	// ErrInvalidOwner is returned when an address does not parse.
	ErrInvalidOwner = errors.New("invalid owner address")
)
