package codec

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []uint32
	}{
		{"empty", "", []uint32{}},
		{"two bytes", "Hi", []uint32{0x00006948}},
		{"full word", "abcd", []uint32{0x64636261}},
		{"five bytes", "abcde", []uint32{0x64636261, 0x00000065}},
		{"multibyte", "€", []uint32{0x00AC82E2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.text))
		})
	}
}

func TestEncode_WordCount(t *testing.T) {
	for _, text := range []string{
		"Today I visited Paris. It was amazing!",
		"Beautiful sunset in Tokyo!",
		"First day in Rome",
		"日本語のテキスト",
		strings.Repeat("x", 512),
	} {
		n := len(text)
		assert.Len(t, Encode(text), (n+3)/4, text)
	}
	assert.Len(t, Encode("Today I visited Paris. It was amazing!"), 10)
}

func TestRoundTrip(t *testing.T) {
	for _, text := range []string{
		"Today I visited Paris. It was amazing!",
		"Beautiful sunset in Tokyo!",
		"Second day exploring",
		"Alice's secret diary",
		"é",
		"🙂 emoji at the end 🙂",
		"a",
		"abcd",
	} {
		got, err := Decode(Encode(text))
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestDecode_InteriorNUL(t *testing.T) {
	text := "a\x00b"

	got, err := Decode(Encode(text))
	require.NoError(t, err)
	assert.Equal(t, "a\x00b", got)

	legacy, err := DecodeLegacy(Encode(text))
	require.NoError(t, err)
	assert.Equal(t, "ab", legacy)
}

func TestDecode_TrailingNUL(t *testing.T) {
	text := "ab\x00"
	words := Encode(text)

	got, err := Decode(words)
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	exact, err := DecodeExact(words, len(text))
	require.NoError(t, err)
	assert.Equal(t, text, exact)
}

func TestDecode_InvalidUTF8(t *testing.T) {
	_, err := Decode([]uint32{0x000000FF})
	assert.ErrorIs(t, err, ErrDecode)

	// Truncated three-byte sequence.
	_, err = Decode([]uint32{0x000082E2})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeLegacy([]uint32{0x0000FFFE})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_Empty(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = Decode([]uint32{0})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestDecodeExact_LengthMismatch(t *testing.T) {
	words := Encode("abcde")
	_, err := DecodeExact(words, 4)
	assert.ErrorIs(t, err, ErrByteLength)
	_, err = DecodeExact(words, 9)
	assert.ErrorIs(t, err, ErrByteLength)
	_, err = DecodeExact(words, -1)
	assert.ErrorIs(t, err, ErrByteLength)
}

func TestChunkCount(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 0}, {1, 1}, {4, 1}, {5, 2}, {38, 10}, {2048, 512},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChunkCount(tt.n), "n=%d", tt.n)
	}
}

func TestPacker_Width(t *testing.T) {
	p := Packer{Width: 1}
	assert.Equal(t, []uint32{0x61, 0x62}, p.Encode("ab"))
	got, err := p.Decode([]uint32{0x61, 0x62})
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	p = Packer{Width: 2}
	words := p.Encode("日本")
	assert.Len(t, words, 3)
	for _, w := range words {
		assert.Less(t, w, uint32(1<<16))
	}
	got, err = p.Decode(words)
	require.NoError(t, err)
	assert.Equal(t, "日本", got)

	assert.Equal(t, WordSize, Packer{}.width())
	assert.Equal(t, WordSize, Packer{Width: 9}.width())
}

func TestRoundTrip_AllRunes(t *testing.T) {
	var b strings.Builder
	for r := rune(1); r < 0x3000; r += 7 {
		if utf8.ValidRune(r) {
			b.WriteRune(r)
		}
	}
	text := b.String()
	got, err := Decode(Encode(text))
	require.NoError(t, err)
	assert.Equal(t, text, got)
}
