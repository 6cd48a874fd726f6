package journal

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/codec"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/ledger"
	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

var (
	testLogger = slog.New(slog.DiscardHandler)
	alice      = mustOwner("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	bob        = mustOwner("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	sharedKeys *fhe.Keys
)

func mustOwner(s string) diary.Owner {
	o, err := diary.ParseOwner(s)
	if err != nil {
		panic(err)
	}
	return o
}

type stack struct {
	cp        *fhe.Coprocessor
	contract  *ledger.Contract
	authority *auth.Authority
	writer    *Writer
	reader    *Reader
}

func newStack(t *testing.T) *stack {
	t.Helper()
	if sharedKeys == nil {
		k, err := fhe.GenerateKeys(12)
		require.NoError(t, err)
		sharedKeys = k
	}
	signer, err := auth.NewProofSigner(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	authority := auth.NewAuthority([]byte("journal-secret"), time.Hour)
	cp := fhe.NewCoprocessor(sharedKeys, fhe.NewMemoryStore(), signer, authority, testLogger)

	router := shard.NewRouter(1)
	router.Register(0, storage.NewMemoryStore())
	c := ledger.New(contract, router, cp.Verifier(), testLogger)

	return &stack{
		cp:        cp,
		contract:  c,
		authority: authority,
		writer:    NewWriter(cp, c, contract),
		reader:    NewReader(cp, c),
	}
}

func (s *stack) token(t *testing.T, owner diary.Owner) string {
	t.Helper()
	tok, _, err := s.authority.Issue(owner, contract, auth.ScopeDecrypt, 0)
	require.NoError(t, err)
	return tok
}

func TestComposeAndRead(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	text := "Today I visited Paris. It was amazing!"
	e, err := s.writer.Compose(ctx, alice, text)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.DiaryID)
	assert.Len(t, e.Chunks, 10)

	n, err := s.contract.ChunkCount(ctx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := s.reader.Read(ctx, alice, 0, s.token(t, alice))
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestComposeAndRead_MultipleEntries(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	texts := []string{"First day in Rome", "Second day exploring"}
	for _, text := range texts {
		_, err := s.writer.Compose(ctx, alice, text)
		require.NoError(t, err)
	}

	count, err := s.contract.DiaryCount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	tok := s.token(t, alice)
	for i, want := range texts {
		got, err := s.reader.Read(ctx, alice, int64(i), tok)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestComposeAndRead_Isolation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.writer.Compose(ctx, alice, "Alice's secret diary")
	require.NoError(t, err)
	_, err = s.writer.Compose(ctx, bob, "Bob's secret diary")
	require.NoError(t, err)

	got, err := s.reader.Read(ctx, alice, 0, s.token(t, alice))
	require.NoError(t, err)
	assert.Equal(t, "Alice's secret diary", got)
	got, err = s.reader.Read(ctx, bob, 0, s.token(t, bob))
	require.NoError(t, err)
	assert.Equal(t, "Bob's secret diary", got)

	// Bob's authorization does not open Alice's chunks.
	_, err = s.reader.Read(ctx, alice, 0, s.token(t, bob))
	assert.ErrorIs(t, err, diary.ErrUnauthorized)
}

func TestComposeAndRead_UnicodeAndNUL(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	for i, text := range []string{"Beautiful sunset in Tokyo! 🌅", "日本語", "a\x00b\x00"} {
		_, err := s.writer.Compose(ctx, alice, text)
		require.NoError(t, err)
		got, err := s.reader.Read(ctx, alice, int64(i), s.token(t, alice))
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestRead_MissingEntry(t *testing.T) {
	s := newStack(t)
	_, err := s.reader.Read(context.Background(), alice, 0, s.token(t, alice))
	assert.ErrorIs(t, err, diary.ErrEntryNotFound)
}

func TestRead_ExpiredAuthorization(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	_, err := s.writer.Compose(ctx, alice, "short")
	require.NoError(t, err)

	tok, _, err := s.authority.Issue(alice, contract, auth.ScopeDecrypt, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = s.reader.Read(ctx, alice, 0, tok)
	assert.ErrorIs(t, err, diary.ErrUnauthorized)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", diary.ErrEmptyInput},
		{"whitespace", " \n\t ", diary.ErrEmptyInput},
		{"at limit", strings.Repeat("a", 512), nil},
		{"over limit", strings.Repeat("a", 513), diary.ErrInputTooLarge},
		{"surrogate pairs at limit", strings.Repeat("🙂", 256), nil},
		{"surrogate pairs over limit", strings.Repeat("🙂", 257), diary.ErrInputTooLarge},
		{"bmp multibyte", strings.Repeat("é", 512), nil},
		{"invalid utf-8", "ab\xff", ErrInvalidText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, DefaultMaxChars)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

// fakeEncryptor records calls and can fail on a chosen word index.
type fakeEncryptor struct {
	calls  atomic.Int32
	failAt int32
}

func (f *fakeEncryptor) Encrypt(ctx context.Context, word uint32, owner diary.Owner, contract string) (diary.Handle, diary.Proof, error) {
	if f.calls.Add(1) == f.failAt {
		return diary.Handle{}, "", errors.New("coprocessor unavailable")
	}
	var h diary.Handle
	h[0], h[1], h[2], h[3] = byte(word), byte(word>>8), byte(word>>16), byte(word>>24)
	return h, "proof", nil
}

// shuffledDecryptor returns words after a random delay so calls finish out
// of order.
type shuffledDecryptor struct{}

func (shuffledDecryptor) Decrypt(ctx context.Context, h diary.Handle, _ string) (uint32, error) {
	time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	return uint32(h[0]) | uint32(h[1])<<8 | uint32(h[2])<<16 | uint32(h[3])<<24, nil
}

type recordingLedger struct {
	created int
	entry   diary.Entry
}

func (l *recordingLedger) CreateDiary(_ context.Context, caller diary.Owner, hs []diary.Handle, _ []diary.Proof, n int) (*diary.Entry, error) {
	l.created++
	l.entry = diary.Entry{Owner: caller, Chunks: hs, ByteLength: n, CreatedAt: time.Now()}
	return &l.entry, nil
}

func (l *recordingLedger) DiaryEntry(context.Context, diary.Owner, int64) (*diary.EntryMeta, error) {
	m := l.entry.Meta()
	return &m, nil
}

func (l *recordingLedger) Chunks(context.Context, diary.Owner, int64) ([]diary.Handle, error) {
	return l.entry.Chunks, nil
}

func TestCompose_EncryptFailureAborts(t *testing.T) {
	l := &recordingLedger{}
	w := NewWriter(&fakeEncryptor{failAt: 3}, l, contract)

	_, err := w.Compose(context.Background(), alice, "Today I visited Paris. It was amazing!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coprocessor unavailable")
	assert.Zero(t, l.created, "nothing submitted after a failed chunk")
}

func TestDecryptAll_PreservesOrder(t *testing.T) {
	l := &recordingLedger{}
	w := NewWriter(&fakeEncryptor{}, l, contract)
	w.Concurrency = 16
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)
	_, err := w.Compose(context.Background(), alice, text)
	require.NoError(t, err)

	r := NewReader(shuffledDecryptor{}, l)
	r.Concurrency = 16
	got, err := r.Read(context.Background(), alice, 0, "")
	require.NoError(t, err)
	assert.Equal(t, text, got)

	words, err := r.DecryptAll(context.Background(), l.entry.Chunks, "")
	require.NoError(t, err)
	assert.Equal(t, codec.Encode(text), words)
}

func TestRead_LegacyEntries(t *testing.T) {
	l := &recordingLedger{}
	w := NewWriter(&fakeEncryptor{}, l, contract)
	_, err := w.Compose(context.Background(), alice, "a\x00b")
	require.NoError(t, err)
	l.entry.ByteLength = 0

	r := NewReader(shuffledDecryptor{}, l)
	got, err := r.Read(context.Background(), alice, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "a\x00b", got)

	r.Legacy = true
	got, err = r.Read(context.Background(), alice, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "ab", got)
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 0, UTF16Len(""))
	assert.Equal(t, 5, UTF16Len("hello"))
	assert.Equal(t, 2, UTF16Len("🙂"))
	assert.Equal(t, 3, UTF16Len("日本語"))
}

type batchCodec struct {
	fakeEncryptor
	batches int
}

func (b *batchCodec) EncryptBatch(ctx context.Context, words []uint32, owner diary.Owner, contract string) ([]diary.Handle, []diary.Proof, error) {
	b.batches++
	hs := make([]diary.Handle, len(words))
	ps := make([]diary.Proof, len(words))
	for i, w := range words {
		h, p, err := b.fakeEncryptor.Encrypt(ctx, w, owner, contract)
		if err != nil {
			return nil, nil, err
		}
		hs[i], ps[i] = h, p
	}
	return hs, ps, nil
}

func (b *batchCodec) DecryptBatch(ctx context.Context, handles []diary.Handle, auth string) ([]uint32, error) {
	b.batches++
	out := make([]uint32, len(handles))
	for i, h := range handles {
		w, err := shuffledDecryptor{}.Decrypt(ctx, h, auth)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func (b *batchCodec) Decrypt(ctx context.Context, h diary.Handle, auth string) (uint32, error) {
	return shuffledDecryptor{}.Decrypt(ctx, h, auth)
}

func TestComposeAndRead_PrefersBatch(t *testing.T) {
	l := &recordingLedger{}
	bc := &batchCodec{}
	text := "Lisbon, day three: trams and custard tarts."

	_, err := NewWriter(bc, l, contract).Compose(context.Background(), alice, text)
	require.NoError(t, err)
	got, err := NewReader(bc, l).Read(context.Background(), alice, 0, "")
	require.NoError(t, err)

	assert.Equal(t, text, got)
	assert.Equal(t, 2, bc.batches)
}

type shortBatch struct{ batchCodec }

func (s *shortBatch) DecryptBatch(ctx context.Context, handles []diary.Handle, auth string) ([]uint32, error) {
	words, err := s.batchCodec.DecryptBatch(ctx, handles, auth)
	return words[:len(words)-1], err
}

func TestDecryptAll_BatchLengthMismatch(t *testing.T) {
	l := &recordingLedger{}
	sb := &shortBatch{}
	_, err := NewWriter(sb, l, contract).Compose(context.Background(), alice, "twelve bytes")
	require.NoError(t, err)

	_, err = NewReader(sb, l).Read(context.Background(), alice, 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2 words for 3 handles")
}
