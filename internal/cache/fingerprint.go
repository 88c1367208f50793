package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Fingerprint derives the cache key for one check: a SHA-256 over the
// lowercased content, the age, and the lowercased language code, separated
// by NUL so no two field combinations collide on concatenation.
func Fingerprint(content string, age int, language string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(content)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(age)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(language)))
	return hex.EncodeToString(h.Sum(nil))
}
