package code

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verification-api/internal/config"
)

func TestNew_HexFormat(t *testing.T) {
	c, err := New(config.CodeFormatHex)
	require.NoError(t, err)
	assert.Len(t, c, 8)
	assert.Regexp(t, `^[0-9A-F]{8}$`, c)
}

func TestNew_NumericFormat(t *testing.T) {
	c, err := New(config.CodeFormatNumeric)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{6}$`, c)
}

func TestNew_UnknownFormatFallsBackToHex(t *testing.T) {
	c, err := New("bogus")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{8}$`, c)
}

func TestNew_NoImmediateRepeats(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		c, err := New(config.CodeFormatHex)
		require.NoError(t, err)
		seen[c] = true
	}
	// 64 draws from a 2^32 space colliding would mean a broken generator.
	assert.Greater(t, len(seen), 60)
}
