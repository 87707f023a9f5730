package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint captures the hashed origin of a request. NetworkHash covers the
// client's network address, ClientHash covers stable client software traits
// (user agent and similar). Raw values are hashed before storage so the
// session table never holds identifiable addresses.
type Fingerprint struct {
	NetworkHash string
	ClientHash  string
}

// DeriveFingerprint hashes the raw network address and client descriptor into
// a Fingerprint. Inputs are trimmed and lowercased first so trivially
// reformatted values compare equal.
func DeriveFingerprint(networkAddr, clientDescriptor string) Fingerprint {
	return Fingerprint{
		NetworkHash: hashOrigin(networkAddr),
		ClientHash:  hashOrigin(clientDescriptor),
	}
}

func hashOrigin(raw string) string {
	norm := strings.ToLower(strings.TrimSpace(raw))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// NetworkMismatch reports whether two fingerprints disagree on network origin.
func NetworkMismatch(a, b Fingerprint) bool {
	return a.NetworkHash != b.NetworkHash
}

// ClientMismatch reports whether two fingerprints disagree on client traits.
func ClientMismatch(a, b Fingerprint) bool {
	return a.ClientHash != b.ClientHash
}
