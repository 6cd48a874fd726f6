package storage

import (
	"encoding/base64"
	"testing"
)

func TestCursor_EncodeDecode(t *testing.T) {
	for _, next := range []int64{0, 1, 100, 9223372036854775807} {
		c := Cursor{NextDiaryID: next}
		encoded, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode(%d): %v", next, err)
		}
		decoded, err := DecodeCursor(encoded)
		if err != nil {
			t.Fatalf("DecodeCursor(%q): %v", encoded, err)
		}
		if decoded.NextDiaryID != next {
			t.Errorf("NextDiaryID: got %d, want %d", decoded.NextDiaryID, next)
		}
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid base64", "!!!invalid!!!"},
		{"invalid json", base64.URLEncoding.EncodeToString([]byte(`{"next_diary_id":"x"}`))},
		{"negative", base64.URLEncoding.EncodeToString([]byte(`{"next_diary_id":-4}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCursor(tt.input); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
