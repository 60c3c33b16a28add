package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashWithDomainFormat(t *testing.T) {
	got := HashWithDomain("d", []byte("abc"))

	sum := sha256.Sum256([]byte("d\x00abc"))
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
	assert.Len(t, got, 64)
}

func TestHashWithDomainPartsConcatenate(t *testing.T) {
	assert.Equal(t,
		HashWithDomain("d", []byte("ab"), []byte("c")),
		HashWithDomain("d", []byte("abc")),
	)
}

func TestHashWithDomainSeparation(t *testing.T) {
	// Moving a byte across the domain boundary must change the hash.
	assert.NotEqual(t,
		HashWithDomain("ab", []byte("c")),
		HashWithDomain("a", []byte("bc")),
	)
}
