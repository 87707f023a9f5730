package security

import "testing"

func TestHashRefreshToken(t *testing.T) {
	h1 := HashRefreshToken("token-a")
	h2 := HashRefreshToken("token-a")
	if h1 != h2 {
		t.Error("same token should hash identically")
	}
	if len(h1) != 64 {
		t.Errorf("hash length want 64 hex chars, got %d", len(h1))
	}
	if HashRefreshToken("token-b") == h1 {
		t.Error("different tokens should hash differently")
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	stored := HashRefreshToken("token-a")
	if !RefreshTokenHashEqual("token-a", stored) {
		t.Error("matching token should compare equal")
	}
	if RefreshTokenHashEqual("token-b", stored) {
		t.Error("non-matching token should not compare equal")
	}
}
