// Package idgen derives stable, content-addressed identifiers.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}

	return str
}

// MessageIDLength is the number of leading hex characters of the SHA-256
// digest kept as a message id. Fixed for the lifetime of a deployment:
// changing it invalidates every previously stored id.
const MessageIDLength = 16

// ContentHash computes the canonical content-address of a message from its
// immutable fields. The caller is responsible for producing a stable,
// deterministic encoding of each field (e.g. normalizing empty optionals to
// the same sentinel) before calling this function. ContentHash itself only
// joins and hashes, it does not normalize.
//
// Identical input always yields an identical id: no nonce, no wall-clock
// component. Idempotent re-ingestion depends on this.
func ContentHash(kind int, authorHandle string, createdAtMs int64, content, platform, platformID string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(kind))
	b.WriteByte('\x1f')
	b.WriteString(authorHandle)
	b.WriteByte('\x1f')
	b.WriteString(strconv.FormatInt(createdAtMs, 10))
	b.WriteByte('\x1f')
	b.WriteString(content)
	b.WriteByte('\x1f')
	b.WriteString(platform)
	b.WriteByte('\x1f')
	b.WriteString(platformID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:MessageIDLength]
}

// HashPrefix truncates a hex-safe string by hashing it and taking the first
// MessageIDLength hex characters. Used for deriving thread roots (e.g. the
// email threading engine's "email_" + hash_prefix(root) rule) and other
// identifiers that must be short, stable, and collision-resistant.
func HashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:MessageIDLength]
}
