package base62_test

import (
	"math"
	"testing"

	"github.com/SergeiKhy/shortlink/internal/base62"
	"github.com/stretchr/testify/assert"
)

func TestEncode_KnownValues(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "a"},
		{1, "b"},
		{25, "z"},
		{26, "A"},
		{51, "Z"},
		{52, "0"},
		{61, "9"},
		{62, "ba"},
		{3843, "99"},
		{3844, "baa"},
		{100000, "Aa4"},
		{100001, "Aa5"},
		{100042, "AbK"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, base62.Encode(tt.n), "Encode(%d)", tt.n)
	}
}

func TestEncode_Boundaries(t *testing.T) {
	assert.Equal(t, base62.Alphabet[:1], base62.Encode(0))
	assert.Equal(t, base62.Alphabet[61:], base62.Encode(61))
	assert.Equal(t, base62.Alphabet[1:2]+base62.Alphabet[:1], base62.Encode(62))

	max := base62.Encode(math.MaxUint64)
	assert.Len(t, max, 11)
	assert.NotEqual(t, byte('a'), max[0], "no leading zero digit")
}

func TestEncode_Injective(t *testing.T) {
	seen := make(map[string]uint64, 300000)
	for n := uint64(0); n < 300000; n++ {
		code := base62.Encode(n)
		prev, dup := seen[code]
		if !assert.False(t, dup, "Encode(%d) collides with Encode(%d): %q", n, prev, code) {
			return
		}
		seen[code] = n
	}
}

func TestEncode_Deterministic(t *testing.T) {
	for _, n := range []uint64{0, 7, 62, 100123, 1 << 40} {
		assert.Equal(t, base62.Encode(n), base62.Encode(n))
	}
}
