// Package codec packs UTF-8 text into little-endian 32-bit words and back.
//
// Each word carries up to four consecutive bytes of the encoded text, the
// first byte in the least-significant position. The final word is padded with
// zero bytes. Decoding trims the padding and validates the result as UTF-8.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// WordSize is the number of text bytes packed into each word.
const WordSize = 4

// ErrDecode is returned when decoded bytes are not valid UTF-8.
var ErrDecode = errors.New("decoded bytes are not valid utf-8")

// ErrByteLength is returned by DecodeExact when the declared length does not
// fit the supplied words.
var ErrByteLength = errors.New("byte length does not match word count")

var std = Packer{Width: WordSize}

// Encode packs text into words of WordSize bytes.
func Encode(text string) []uint32 { return std.Encode(text) }

// Decode unpacks words produced by Encode. Trailing zero bytes are treated as
// padding and removed; zero bytes followed by data are kept.
func Decode(words []uint32) (string, error) { return std.Decode(words) }

// DecodeExact unpacks words and keeps exactly byteLen bytes.
func DecodeExact(words []uint32, byteLen int) (string, error) {
	return std.DecodeExact(words, byteLen)
}

// DecodeLegacy unpacks words dropping every zero byte, so text containing
// U+0000 loses those characters. It matches entries written by clients that
// never recorded a byte length.
func DecodeLegacy(words []uint32) (string, error) { return std.DecodeLegacy(words) }

// ChunkCount returns the number of words needed for n bytes.
func ChunkCount(n int) int { return std.ChunkCount(n) }

// Packer packs bytes into words of Width bytes, 1 through 4.
type Packer struct {
	Width int
}

func (p Packer) width() int {
	if p.Width < 1 || p.Width > WordSize {
		return WordSize
	}
	return p.Width
}

// ChunkCount returns ceil(n / Width).
func (p Packer) ChunkCount(n int) int {
	if n <= 0 {
		return 0
	}
	w := p.width()
	return (n + w - 1) / w
}

// Encode packs text into words.
func (p Packer) Encode(text string) []uint32 {
	return p.EncodeBytes([]byte(text))
}

// EncodeBytes packs raw bytes into words.
func (p Packer) EncodeBytes(b []byte) []uint32 {
	w := p.width()
	words := make([]uint32, p.ChunkCount(len(b)))
	for i, c := range b {
		words[i/w] |= uint32(c) << (8 * (i % w))
	}
	return words
}

func (p Packer) unpack(words []uint32) []byte {
	w := p.width()
	out := make([]byte, 0, len(words)*w)
	for _, word := range words {
		for j := 0; j < w; j++ {
			out = append(out, byte(word>>(8*j)))
		}
	}
	return out
}

// Decode unpacks words and trims trailing zero bytes.
func (p Packer) Decode(words []uint32) (string, error) {
	return validate(bytes.TrimRight(p.unpack(words), "\x00"))
}

// DecodeExact unpacks words and keeps the first byteLen bytes. The length must
// need exactly len(words) words.
func (p Packer) DecodeExact(words []uint32, byteLen int) (string, error) {
	if byteLen < 0 || p.ChunkCount(byteLen) != len(words) {
		return "", fmt.Errorf("%w: %d bytes in %d words", ErrByteLength, byteLen, len(words))
	}
	return validate(p.unpack(words)[:byteLen])
}

// DecodeLegacy unpacks words skipping every zero byte.
func (p Packer) DecodeLegacy(words []uint32) (string, error) {
	raw := p.unpack(words)
	out := raw[:0]
	for _, c := range raw {
		if c != 0 {
			out = append(out, c)
		}
	}
	return validate(out)
}

func validate(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrDecode
	}
	return string(b), nil
}
