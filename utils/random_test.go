package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(16)
	require.NoError(t, err)

	// n random bytes hex-encode to 2n characters
	assert.Len(t, code, 32)
	assert.Regexp(t, "^[0-9A-F]+$", code)

	other, err := GenerateCode(16)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestGenerateOTP(t *testing.T) {
	otp, err := GenerateOTP(6)
	require.NoError(t, err)

	assert.Len(t, otp, 6)
	assert.Regexp(t, "^[0-9]+$", otp)
}

func TestMustCode(t *testing.T) {
	assert.Len(t, MustCode(8), 16)
}
