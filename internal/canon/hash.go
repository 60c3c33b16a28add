package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashWithDomain computes SHA256(domain + 0x00 + parts...) as lowercase hex.
// The null separator keeps the domain and data boundary unambiguous. Parts
// are concatenated without separators.
func HashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
