// Package journal composes and reads diary entries end to end: validate and
// encode text, encrypt every word, submit the handles; and the reverse.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxChars is the default text limit in UTF-16 code units.
const DefaultMaxChars = diary.DefaultMaxTextChars

// DefaultConcurrency bounds in-flight encrypt or decrypt calls per entry.
const DefaultConcurrency = 8

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("text is not valid utf-8")

// Encryptor turns one word into a handle and proof bound to owner.
type Encryptor interface {
	Encrypt(ctx context.Context, word uint32, owner diary.Owner, contract string) (diary.Handle, diary.Proof, error)
}

// Decryptor recovers the word behind a handle.
type Decryptor interface {
	Decrypt(ctx context.Context, handle diary.Handle, authorization string) (uint32, error)
}

// BatchEncryptor is implemented by encryptors that can encrypt a whole entry
// in one call. Writer prefers it when available.
type BatchEncryptor interface {
	EncryptBatch(ctx context.Context, words []uint32, owner diary.Owner, contract string) ([]diary.Handle, []diary.Proof, error)
}

// BatchDecryptor is the decrypt counterpart of BatchEncryptor.
type BatchDecryptor interface {
	DecryptBatch(ctx context.Context, handles []diary.Handle, authorization string) ([]uint32, error)
}

// Ledger is the contract surface the journal needs.
type Ledger interface {
	CreateDiary(ctx context.Context, caller diary.Owner, handles []diary.Handle, proofs []diary.Proof, byteLength int) (*diary.Entry, error)
	DiaryEntry(ctx context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error)
	Chunks(ctx context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error)
}

// UTF16Len counts text in UTF-16 code units.
func UTF16Len(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Validate checks text before it is encoded.
func Validate(text string, maxChars int) error {
	if strings.TrimSpace(text) == "" {
		return diary.ErrEmptyInput
	}
	if !utf8.ValidString(text) {
		return ErrInvalidText
	}
	if n := UTF16Len(text); n > maxChars {
		return fmt.Errorf("%w: %d > %d", diary.ErrInputTooLarge, n, maxChars)
	}
	return nil
}

// Writer composes new entries.
type Writer struct {
	enc         Encryptor
	ledger      Ledger
	contract    string
	MaxChars    int
	Concurrency int
}

func NewWriter(enc Encryptor, ledger Ledger, contract string) *Writer {
	return &Writer{
		enc:         enc,
		ledger:      ledger,
		contract:    contract,
		MaxChars:    DefaultMaxChars,
		Concurrency: DefaultConcurrency,
	}
}

// Compose validates text, encrypts each word and submits the entry as owner.
// Any encryption failure aborts before submission.
func (w *Writer) Compose(ctx context.Context, owner diary.Owner, text string) (*diary.Entry, error) {
	if err := Validate(text, w.MaxChars); err != nil {
		return nil, err
	}
	words := codec.Encode(text)

	handles, proofs, err := w.encrypt(ctx, owner, words)
	if err != nil {
		return nil, err
	}
	return w.ledger.CreateDiary(ctx, owner, handles, proofs, len(text))
}

func (w *Writer) encrypt(ctx context.Context, owner diary.Owner, words []uint32) ([]diary.Handle, []diary.Proof, error) {
	if b, ok := w.enc.(BatchEncryptor); ok {
		handles, proofs, err := b.EncryptBatch(ctx, words, owner, w.contract)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt entry: %w", err)
		}
		if len(handles) != len(words) || len(proofs) != len(words) {
			return nil, nil, fmt.Errorf("encrypt entry: got %d handles, %d proofs for %d words", len(handles), len(proofs), len(words))
		}
		return handles, proofs, nil
	}

	handles := make([]diary.Handle, len(words))
	proofs := make([]diary.Proof, len(words))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(w.Concurrency))
	for i, word := range words {
		g.Go(func() error {
			h, p, err := w.enc.Encrypt(gctx, word, owner, w.contract)
			if err != nil {
				return fmt.Errorf("encrypt chunk %d: %w", i, err)
			}
			handles[i], proofs[i] = h, p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return handles, proofs, nil
}

// Reader decrypts stored entries.
type Reader struct {
	dec         Decryptor
	ledger      Ledger
	Concurrency int
	// Legacy drops every NUL byte when an entry carries no byte length.
	Legacy bool
}

func NewReader(dec Decryptor, ledger Ledger) *Reader {
	return &Reader{dec: dec, ledger: ledger, Concurrency: DefaultConcurrency}
}

// Read returns the plaintext of owner's entry diaryID. authorization must
// permit decryption of owner's handles.
func (r *Reader) Read(ctx context.Context, owner diary.Owner, diaryID int64, authorization string) (string, error) {
	meta, err := r.ledger.DiaryEntry(ctx, owner, diaryID)
	if err != nil {
		return "", err
	}
	if !meta.Exists {
		return "", fmt.Errorf("%w: %s #%d", diary.ErrEntryNotFound, owner, diaryID)
	}
	handles, err := r.ledger.Chunks(ctx, owner, diaryID)
	if err != nil {
		return "", err
	}

	words, err := r.DecryptAll(ctx, handles, authorization)
	if err != nil {
		return "", err
	}

	switch {
	case meta.ByteLength > 0:
		return codec.DecodeExact(words, meta.ByteLength)
	case r.Legacy:
		return codec.DecodeLegacy(words)
	default:
		return codec.Decode(words)
	}
}

// DecryptAll decrypts handles concurrently and returns the words in handle
// order.
func (r *Reader) DecryptAll(ctx context.Context, handles []diary.Handle, authorization string) ([]uint32, error) {
	if b, ok := r.dec.(BatchDecryptor); ok {
		words, err := b.DecryptBatch(ctx, handles, authorization)
		if err != nil {
			return nil, fmt.Errorf("decrypt entry: %w", err)
		}
		if len(words) != len(handles) {
			return nil, fmt.Errorf("decrypt entry: got %d words for %d handles", len(words), len(handles))
		}
		return words, nil
	}

	words := make([]uint32, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(r.Concurrency))
	for i, h := range handles {
		g.Go(func() error {
			word, err := r.dec.Decrypt(gctx, h, authorization)
			if err != nil {
				return fmt.Errorf("decrypt chunk %d: %w", i, err)
			}
			words[i] = word
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return words, nil
}

func limit(n int) int {
	if n <= 0 {
		return DefaultConcurrency
	}
	return n
}
