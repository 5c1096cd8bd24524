package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// VerifierLength is the length of a generated PKCE code verifier.
const VerifierLength = 64

// verifierCharset is the RFC 7636 unreserved character set.
const verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GeneratePKCE creates a PKCE verifier and its S256 challenge.
//
// The provider expects the SHA-256 digest as lowercase hex rather than the
// base64url encoding of RFC 7636.
func GeneratePKCE() (verifier, challenge string, err error) {
	limit := big.NewInt(int64(len(verifierCharset)))
	b := make([]byte, VerifierLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", "", err
		}
		b[i] = verifierCharset[n.Int64()]
	}
	verifier = string(b)
	return verifier, Challenge(verifier), nil
}

// Challenge returns the hex S256 challenge for verifier.
func Challenge(verifier string) string {
	s := sha256.Sum256([]byte(verifier))
	return hex.EncodeToString(s[:])
}
