package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexSHA256(t *testing.T) {
	t.Parallel()
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HexSHA256([]byte("abc")))
}

func TestShortHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "BA7816BF", ShortHash("abc", 8))
	assert.Len(t, ShortHash("abc", 100), 64)
	assert.Equal(t, ShortHash("Vpc/PublicSubnet1", 8), ShortHash("Vpc/PublicSubnet1", 8))
	assert.NotEqual(t, ShortHash("Vpc/PublicSubnet1", 8), ShortHash("Vpc/PublicSubnet2", 8))
}
