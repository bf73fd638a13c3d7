package utils

import (
	crand "crypto/rand"
	"encoding/hex"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// codeCharset is the alphabet for entry codes.
const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns n random bytes as an uppercase hex string.
func GenerateCode(n int) string {
	byt := make([]byte, n)
	fillRandom(byt)
	return strings.ToUpper(hex.EncodeToString(byt))
}

// GenerateShortCode returns an uppercase alphanumeric code of the given
// length. Used for preview codes.
func GenerateShortCode(length int) string {
	return randomFromCharset(length)
}

// GenerateRandomCode returns the 8-character alphanumeric code used for
// persisted entry codes.
func GenerateRandomCode() string {
	return randomFromCharset(8)
}

// GenerateUniqueCode combines 4 random characters with the tail of a base-36
// timestamp. Fallback when the random generator keeps colliding during a
// batch.
func GenerateUniqueCode() string {
	timestamp := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	if len(timestamp) > 4 {
		timestamp = timestamp[len(timestamp)-4:]
	}
	return randomFromCharset(4) + timestamp
}

func randomFromCharset(length int) string {
	if length <= 0 {
		return ""
	}

	code := make([]byte, length)
	fillRandom(code)
	for i := 0; i < length; i++ {
		code[i] = codeCharset[int(code[i])%len(codeCharset)]
	}
	return string(code)
}

// fillRandom prefers crypto randomness and degrades to math/rand, since code
// generation must not fail outright.
func fillRandom(b []byte) {
	if _, err := crand.Read(b); err != nil {
		for i := range b {
			b[i] = byte(rand.Intn(256))
		}
	}
}
