package session

import "testing"

// FuzzSessionDecode exercises the binary session decoder with arbitrary inputs.
// Malformed input must return an error, never panic.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(&Session{
		UserID:      "user1",
		Email:       "ada@example.com",
		RefreshHash: [32]byte{7},
		CreatedAt:   1700000000,
		ExpiresAt:   1700003600,
	})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
		f.Add(encoded[:fixedHeaderSize])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}

		reEncoded, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode of decoded session failed: %v", err)
		}
		if string(reEncoded) != string(data) {
			t.Fatalf("decode/encode is not stable")
		}
	})
}
