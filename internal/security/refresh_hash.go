package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashRefreshToken digests the raw refresh token with SHA-256 and returns the
// hex form stored on the session row. The raw token itself never touches
// storage; possession is proven by re-deriving the digest.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RefreshTokenHashEqual reports whether the presented token matches the stored
// digest. The comparison is constant time.
func RefreshTokenHashEqual(token, storedHash string) bool {
	digest := HashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
