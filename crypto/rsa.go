// Package crypto encrypts login secrets under the RSA public key the
// authentication provider hands out per session.
//
// The provider delivers the key as the base64 of its SPKI DER, using the
// URL-safe alphabet and without PEM framing; its web front end encrypts
// with JSEncrypt, i.e. PKCS#1 v1.5 padding. OAEP produces ciphertext the
// server decrypts to garbage and rejects as bad credentials, so the
// padding scheme here is not negotiable.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyFormat indicates the provider-supplied public key could not be
	// decoded into an RSA public key.
	ErrKeyFormat = errors.New("malformed public key")
	// ErrMessageTooLong indicates the plaintext exceeds what a single
	// PKCS#1 v1.5 block under the given key can carry.
	ErrMessageTooLong = errors.New("message too long for key")
)

// Encrypt encrypts plaintext under the provider-supplied public key using
// PKCS#1 v1.5 padding and returns the standard-base64 ciphertext.
//
// Pure function: no I/O, no shared state.
func Encrypt(plaintext, publicKey string) (string, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", err
	}

	msg := []byte(plaintext)
	if len(msg) > pub.Size()-11 {
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrMessageTooLong, len(msg), pub.Size()-11)
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, msg)
	if err != nil {
		return "", fmt.Errorf("encrypting secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// ParsePublicKey decodes a provider-encoded public key. It accepts the
// URL-safe or standard base64 alphabet, with or without PEM framing and
// embedded whitespace.
func ParsePublicKey(publicKey string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(normalize(publicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrKeyFormat)
	}
	return pub, nil
}

// HashKey returns a stable hex digest of the normalized key material,
// used to index correlation tokens by the key they were issued with.
func HashKey(publicKey string) string {
	sum := sha256.Sum256([]byte(normalize(publicKey)))
	return hex.EncodeToString(sum[:])
}

// normalize strips PEM framing and whitespace and converts the URL-safe
// base64 alphabet back to the standard one.
func normalize(publicKey string) string {
	s := publicKey
	s = strings.ReplaceAll(s, "-----BEGIN PUBLIC KEY-----", "")
	s = strings.ReplaceAll(s, "-----END PUBLIC KEY-----", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return s
}
